package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cadencehq/identity-service/internal/domain"
)

type rbacRepository struct {
	db *gorm.DB
}

func (r *rbacRepository) RolesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Role, error) {
	var rows []roleModel
	err := r.db.WithContext(ctx).
		Joins("JOIN user_roles ur ON ur.role_id = roles.role_id").
		Where("ur.user_id = ?", userID).
		Order("roles.name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Role, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.Role{RoleID: row.RoleID, Name: row.Name, CreatedAt: row.CreatedAt})
	}
	return result, nil
}

func (r *rbacRepository) PermissionsForRole(ctx context.Context, roleName string) ([]domain.Permission, error) {
	var rows []permissionModel
	err := r.db.WithContext(ctx).
		Joins("JOIN role_permissions rp ON rp.permission_id = permissions.permission_id").
		Joins("JOIN roles r ON r.role_id = rp.role_id").
		Where("r.name = ?", roleName).
		Order("permissions.name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Permission, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.Permission{PermissionID: row.PermissionID, Name: row.Name, CreatedAt: row.CreatedAt})
	}
	return result, nil
}

func (r *rbacRepository) AssignRole(ctx context.Context, userID uuid.UUID, roleName string, assignedAt time.Time) error {
	var role roleModel
	if err := r.db.WithContext(ctx).Where("name = ?", roleName).Take(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&userRoleModel{UserID: userID, RoleID: role.RoleID, AssignedAt: assignedAt}).Error
}

func (r *rbacRepository) RevokeRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	var role roleModel
	if err := r.db.WithContext(ctx).Where("name = ?", roleName).Take(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return r.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, role.RoleID).
		Delete(&userRoleModel{}).Error
}
