package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
)

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) usage.Repository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Create(ctx context.Context, e *usageDatamodel.UsageEvent) error {
	return store.Conn(ctx, r.db).Create(e).Error
}

func (r *UsageRepository) GetBySource(ctx context.Context, sourceType, sourceID string) (*usageDatamodel.UsageEvent, error) {
	var e usageDatamodel.UsageEvent
	err := store.Conn(ctx, r.db).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&e).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *UsageRepository) ListUnbilled(ctx context.Context, clientID int64, from, to time.Time, lock bool) ([]*usageDatamodel.UsageEvent, error) {
	q := store.Conn(ctx, r.db).
		Where("client_id = ? AND claim_id IS NULL", clientID).
		Where("service_date >= ? AND service_date <= ?", from, to).
		Order("service_date ASC, id ASC")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var out []*usageDatamodel.UsageEvent
	err := q.Find(&out).Error
	return out, err
}

// ListByClaim returns every event the claim billed, including events a
// resubmission has since moved to a replacement claim.
func (r *UsageRepository) ListByClaim(ctx context.Context, claimID int64) ([]*usageDatamodel.UsageEvent, error) {
	var out []*usageDatamodel.UsageEvent
	err := store.Conn(ctx, r.db).
		Select("usage_events.*").
		Joins("JOIN claim_usage_events cu ON cu.usage_event_id = usage_events.id").
		Where("cu.claim_id = ?", claimID).
		Order("usage_events.service_date ASC, usage_events.id ASC").
		Find(&out).Error
	return out, err
}

// MarkBilled only touches rows that are still unbilled; the caller compares
// the affected count with len(ids).
func (r *UsageRepository) MarkBilled(ctx context.Context, ids []int64, claimID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	conn := store.Conn(ctx, r.db)
	res := conn.
		Model(&usageDatamodel.UsageEvent{}).
		Where("id IN ? AND claim_id IS NULL", ids).
		Update("claim_id", claimID)
	if res.Error != nil || res.RowsAffected != int64(len(ids)) {
		return res.RowsAffected, res.Error
	}
	return res.RowsAffected, r.link(conn, claimID, ids)
}

// Rebill points a denied claim's events at its replacement. The denied
// claim's link rows stay.
func (r *UsageRepository) Rebill(ctx context.Context, fromClaimID, toClaimID int64) (int64, error) {
	conn := store.Conn(ctx, r.db)
	var ids []int64
	if err := conn.
		Model(&usageDatamodel.UsageEvent{}).
		Where("claim_id = ?", fromClaimID).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := conn.
		Model(&usageDatamodel.UsageEvent{}).
		Where("id IN ? AND claim_id = ?", ids, fromClaimID).
		Update("claim_id", toClaimID)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, r.link(conn, toClaimID, ids)
}

func (r *UsageRepository) link(conn *gorm.DB, claimID int64, ids []int64) error {
	links := make([]usageDatamodel.ClaimUsage, len(ids))
	for i, id := range ids {
		links[i] = usageDatamodel.ClaimUsage{ClaimID: claimID, UsageEventID: id}
	}
	return conn.Create(&links).Error
}
