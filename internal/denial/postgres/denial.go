package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	denialDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/denial"
	"github.com/dydact/scrive-aci-sub002/internal/denial"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

var openStatuses = []string{string(denial.StatusPending), string(denial.StatusInProgress)}

type DenialRepository struct {
	db *gorm.DB
}

func NewDenialRepository(db *gorm.DB) denial.Repository {
	return &DenialRepository{db: db}
}

func (r *DenialRepository) Create(ctx context.Context, d *denialDatamodel.Denial) error {
	return store.Conn(ctx, r.db).Create(d).Error
}

func (r *DenialRepository) GetByID(ctx context.Context, id int64) (*denialDatamodel.Denial, error) {
	return firstDenial(store.Conn(ctx, r.db).Where("id = ?", id))
}

func (r *DenialRepository) GetForUpdate(ctx context.Context, id int64) (*denialDatamodel.Denial, error) {
	return firstDenial(store.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *DenialRepository) GetByClaim(ctx context.Context, claimID int64) (*denialDatamodel.Denial, error) {
	return firstDenial(store.Conn(ctx, r.db).Where("claim_id = ?", claimID))
}

func (r *DenialRepository) Update(ctx context.Context, d *denialDatamodel.Denial) error {
	return store.Conn(ctx, r.db).Save(d).Error
}

func (r *DenialRepository) CreateAppeal(ctx context.Context, a *denialDatamodel.Appeal) error {
	return store.Conn(ctx, r.db).Create(a).Error
}

func (r *DenialRepository) ListAppeals(ctx context.Context, denialID int64) ([]*denialDatamodel.Appeal, error) {
	var out []*denialDatamodel.Appeal
	err := store.Conn(ctx, r.db).
		Where("denial_id = ?", denialID).
		Order("filed_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *DenialRepository) CreateTask(ctx context.Context, t *denialDatamodel.Task) error {
	return store.Conn(ctx, r.db).Create(t).Error
}

func (r *DenialRepository) GetTask(ctx context.Context, denialID, taskID int64) (*denialDatamodel.Task, error) {
	var t denialDatamodel.Task
	err := store.Conn(ctx, r.db).
		Where("id = ? AND denial_id = ?", taskID, denialID).
		First(&t).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *DenialRepository) UpdateTask(ctx context.Context, t *denialDatamodel.Task) error {
	return store.Conn(ctx, r.db).Save(t).Error
}

func (r *DenialRepository) ListTasks(ctx context.Context, denialID int64) ([]*denialDatamodel.Task, error) {
	var out []*denialDatamodel.Task
	err := store.Conn(ctx, r.db).
		Where("denial_id = ?", denialID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *DenialRepository) ListPastDeadline(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := store.Conn(ctx, r.db).
		Model(&denialDatamodel.Denial{}).
		Where("status IN ? AND overdue = ? AND appeal_deadline < ?", openStatuses, false, now).
		Order("appeal_deadline ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *DenialRepository) ListOverdue(ctx context.Context, now time.Time) ([]*denialDatamodel.Denial, error) {
	var out []*denialDatamodel.Denial
	err := store.Conn(ctx, r.db).
		Where("status IN ?", openStatuses).
		Where("overdue = ? OR appeal_deadline < ?", true, now).
		Order("appeal_deadline ASC").
		Find(&out).Error
	return out, err
}

func firstDenial(q *gorm.DB) (*denialDatamodel.Denial, error) {
	var d denialDatamodel.Denial
	if err := q.First(&d).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}
