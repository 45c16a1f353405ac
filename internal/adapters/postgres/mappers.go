package postgres

import (
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/cadencehq/identity-service/internal/domain"
)

func toDomainUser(row userModel) domain.User {
	return domain.User{
		UserID:        row.UserID,
		Username:      row.Username,
		Email:         row.Email,
		PasswordHash:  row.PasswordHash,
		EmailVerified: row.EmailVerified,
		IsActive:      row.IsActive,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func toDomainRefreshToken(row refreshTokenModel) domain.RefreshToken {
	return domain.RefreshToken{
		TokenID:   row.TokenID,
		TokenHash: row.TokenHash,
		UserID:    row.UserID,
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
		RevokedAt: row.RevokedAt,
	}
}

func toDomainAuditEntry(row auditEntryModel) domain.AuditEntry {
	ip := ""
	if row.IPAddress != nil {
		ip = *row.IPAddress
	}
	var detail map[string]any
	if row.Detail != nil && *row.Detail != "" {
		_ = json.Unmarshal([]byte(*row.Detail), &detail)
	}
	return domain.AuditEntry{
		ID:           row.ID,
		ActorUserID:  row.ActorUserID,
		Action:       row.Action,
		ResourceType: row.ResourceType,
		ResourceID:   row.ResourceID,
		IPAddress:    ip,
		Detail:       detail,
		OccurredAt:   row.OccurredAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
