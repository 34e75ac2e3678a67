package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) ActiveAssignment(ctx context.Context, userID int64) (*auth.RoleAssignment, error) {
	var assignment auth.RoleAssignment
	err := store.Conn(ctx, r.db).
		Where("user_id = ? AND active = ?", userID, true).
		Order("granted_at DESC").
		First(&assignment).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

func (r *RoleRepository) Deactivate(ctx context.Context, userID int64, at time.Time) error {
	return store.Conn(ctx, r.db).
		Model(&auth.RoleAssignment{}).
		Where("user_id = ? AND active = ?", userID, true).
		Updates(map[string]interface{}{"active": false, "revoked_at": at}).Error
}

func (r *RoleRepository) Create(ctx context.Context, assignment *auth.RoleAssignment) error {
	return store.Conn(ctx, r.db).Create(assignment).Error
}

// History returns every assignment of a user, newest first.
func (r *RoleRepository) History(ctx context.Context, userID int64) ([]auth.RoleAssignment, error) {
	var out []auth.RoleAssignment
	err := store.Conn(ctx, r.db).
		Where("user_id = ?", userID).
		Order("granted_at DESC, id DESC").
		Find(&out).Error
	return out, err
}
