package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	authorizationDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

type AuthorizationRepository struct {
	db *gorm.DB
}

func NewAuthorizationRepository(db *gorm.DB) authorization.Repository {
	return &AuthorizationRepository{db: db}
}

func (r *AuthorizationRepository) Create(ctx context.Context, a *authorizationDatamodel.Authorization) error {
	return store.Conn(ctx, r.db).Create(a).Error
}

func (r *AuthorizationRepository) GetByID(ctx context.Context, id int64) (*authorizationDatamodel.Authorization, error) {
	var a authorizationDatamodel.Authorization
	err := store.Conn(ctx, r.db).Where("id = ?", id).First(&a).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// GetForUpdate issues SELECT ... FOR UPDATE so concurrent consumers queue on
// the row instead of both passing the remaining-units check.
func (r *AuthorizationRepository) GetForUpdate(ctx context.Context, id int64) (*authorizationDatamodel.Authorization, error) {
	var a authorizationDatamodel.Authorization
	err := store.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&a).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AuthorizationRepository) FindActive(ctx context.Context, clientID, serviceTypeID int64, on time.Time) (*authorizationDatamodel.Authorization, error) {
	day := dateOf(on)
	var a authorizationDatamodel.Authorization
	err := store.Conn(ctx, r.db).
		Where("client_id = ? AND service_type_id = ? AND status = ?", clientID, serviceTypeID, authorization.StatusActive).
		Where("start_date <= ? AND end_date >= ?", day, day).
		Order("start_date DESC, id DESC").
		First(&a).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AuthorizationRepository) ListActiveByClient(ctx context.Context, clientID int64) ([]*authorizationDatamodel.Authorization, error) {
	var out []*authorizationDatamodel.Authorization
	err := store.Conn(ctx, r.db).
		Where("client_id = ? AND status = ?", clientID, authorization.StatusActive).
		Order("service_type_id ASC, start_date DESC").
		Find(&out).Error
	return out, err
}

func (r *AuthorizationRepository) CountOverlapping(ctx context.Context, clientID, serviceTypeID int64, program string, start, end time.Time) (int64, error) {
	var n int64
	err := store.Conn(ctx, r.db).
		Model(&authorizationDatamodel.Authorization{}).
		Where("client_id = ? AND service_type_id = ? AND program = ?", clientID, serviceTypeID, program).
		Where("status IN ?", []string{authorization.StatusActive, authorization.StatusSuspended}).
		Where("start_date <= ? AND end_date >= ?", dateOf(end), dateOf(start)).
		Count(&n).Error
	return n, err
}

func (r *AuthorizationRepository) Update(ctx context.Context, a *authorizationDatamodel.Authorization) error {
	a.UpdatedAt = time.Now().UTC()
	return store.Conn(ctx, r.db).Save(a).Error
}

func (r *AuthorizationRepository) ListDueForReset(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := store.Conn(ctx, r.db).
		Model(&authorizationDatamodel.Authorization{}).
		Where("status = ? AND last_reset_date <= ?", authorization.StatusActive, dateOf(cutoff)).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *AuthorizationRepository) ListLapsed(ctx context.Context, today time.Time) ([]int64, error) {
	var ids []int64
	err := store.Conn(ctx, r.db).
		Model(&authorizationDatamodel.Authorization{}).
		Where("status = ? AND end_date < ?", authorization.StatusActive, dateOf(today)).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
