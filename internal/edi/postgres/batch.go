package postgres

import (
	"context"

	"gorm.io/gorm"

	claimDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/claim"
	ediDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/edi"
	"github.com/dydact/scrive-aci-sub002/internal/edi"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) edi.Repository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, b *ediDatamodel.Batch) error {
	return store.Conn(ctx, r.db).Create(b).Error
}

func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*ediDatamodel.Batch, error) {
	var b ediDatamodel.Batch
	err := store.Conn(ctx, r.db).Where("id = ?", id).First(&b).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// LastControlNumber reads the current maximum; two concurrent batches that
// pick the same number collide on the unique index and the loser retries.
func (r *BatchRepository) LastControlNumber(ctx context.Context) (int64, error) {
	var last int64
	err := store.Conn(ctx, r.db).
		Model(&ediDatamodel.Batch{}).
		Select("COALESCE(MAX(control_number), 0)").
		Scan(&last).Error
	return last, err
}

func (r *BatchRepository) ClaimIDs(ctx context.Context, batchID int64) ([]int64, error) {
	var ids []int64
	err := store.Conn(ctx, r.db).
		Model(&claimDatamodel.Claim{}).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
