package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cadencehq/identity-service/internal/domain"
)

type auditRepository struct {
	db *gorm.DB
}

func (r *auditRepository) Insert(ctx context.Context, entry domain.AuditEntry) error {
	var detail *string
	if len(entry.Detail) > 0 {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return err
		}
		s := string(raw)
		detail = &s
	}
	rec := auditEntryModel{
		ActorUserID:  entry.ActorUserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		IPAddress:    nullableString(entry.IPAddress),
		Detail:       detail,
		OccurredAt:   entry.OccurredAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *auditRepository) ListByActor(ctx context.Context, userID uuid.UUID, limit, offset int, since *time.Time, action string) ([]domain.AuditEntry, error) {
	query := r.db.WithContext(ctx).
		Where("actor_user_id = ?", userID).
		Order("occurred_at DESC").
		Limit(limit).
		Offset(offset)
	if since != nil {
		query = query.Where("occurred_at >= ?", *since)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}
	var rows []auditEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainAuditEntry(row))
	}
	return result, nil
}

func (r *auditRepository) List(ctx context.Context, limit, offset int, since *time.Time) ([]domain.AuditEntry, error) {
	query := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Offset(offset)
	if since != nil {
		query = query.Where("occurred_at >= ?", *since)
	}
	var rows []auditEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainAuditEntry(row))
	}
	return result, nil
}
