package ports

import (
	"context"

	"github.com/cadencehq/identity-service/internal/domain"
)

// EventPublisher is the outbound domain-event publish port.
// The application uses this abstraction to keep broker/client concerns in adapters.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}

// AuditSink accepts audit entries without ever blocking or failing the
// operation being audited. Delivery problems are reported out-of-band.
type AuditSink interface {
	Record(entry domain.AuditEntry)
}

// Mailer delivers verification and reset tokens. Delivery is fire-and-forget
// from the core's point of view; the token is already persisted when Send is
// called.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
	SendEmailVerification(ctx context.Context, email, token string) error
}
