package postgres

import (
	"gorm.io/gorm"

	"github.com/cadencehq/identity-service/internal/ports"
)

type Repositories struct {
	Users         ports.UserRepository
	RefreshTokens ports.RefreshTokenRepository
	RBAC          ports.RBACRepository
	Audit         ports.AuditRepository
	Recovery      ports.RecoveryRepository
	Outbox        ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Users:         &userRepository{db: db},
		RefreshTokens: &refreshTokenRepository{db: db},
		RBAC:          &rbacRepository{db: db},
		Audit:         &auditRepository{db: db},
		Recovery:      &recoveryRepository{db: db},
		Outbox:        &outboxRepository{db: db},
	}
}
