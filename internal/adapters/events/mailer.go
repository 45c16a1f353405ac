package events

import (
	"context"
	"log/slog"
)

// LoggingMailer stands in for the external delivery collaborator. The raw
// token is handed over exactly as a real mailer would receive it; delivery
// failures do not affect the flow that generated the token.
type LoggingMailer struct {
	logger *slog.Logger
}

func NewLoggingMailer(logger *slog.Logger) *LoggingMailer {
	return &LoggingMailer{logger: logger}
}

func (m *LoggingMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.logger.InfoContext(ctx, "password reset mail queued",
		"module", "events.mailer",
		"layer", "adapter",
		"operation", "send_password_reset",
		"outcome", "success",
		"recipient", email,
		"token_len", len(token),
	)
	return nil
}

func (m *LoggingMailer) SendEmailVerification(ctx context.Context, email, token string) error {
	m.logger.InfoContext(ctx, "verification mail queued",
		"module", "events.mailer",
		"layer", "adapter",
		"operation", "send_email_verification",
		"outcome", "success",
		"recipient", email,
		"token_len", len(token),
	)
	return nil
}
