package postgres

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/claim"
	claimDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/claim"
	clientDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/client"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) claim.Repository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) Create(ctx context.Context, c *claimDatamodel.Claim) error {
	return store.Conn(ctx, r.db).Create(c).Error
}

func (r *ClaimRepository) GetByID(ctx context.Context, id int64) (*claimDatamodel.Claim, error) {
	return r.first(store.Conn(ctx, r.db).Where("id = ?", id))
}

func (r *ClaimRepository) GetForUpdate(ctx context.Context, id int64) (*claimDatamodel.Claim, error) {
	return r.first(store.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *ClaimRepository) Update(ctx context.Context, c *claimDatamodel.Claim) error {
	return store.Conn(ctx, r.db).Save(c).Error
}

// LastNumber relies on the zero padded sequence sorting lexically.
func (r *ClaimRepository) LastNumber(ctx context.Context, prefix string) (string, error) {
	var numbers []string
	err := store.Conn(ctx, r.db).
		Model(&claimDatamodel.Claim{}).
		Where("claim_number LIKE ?", prefix+"%").
		Order("claim_number DESC").
		Limit(1).
		Pluck("claim_number", &numbers).Error
	if err != nil || len(numbers) == 0 {
		return "", err
	}
	return numbers[0], nil
}

func (r *ClaimRepository) FindReplacement(ctx context.Context, claimID int64) (*claimDatamodel.Claim, error) {
	return r.first(store.Conn(ctx, r.db).Where("replaces_claim_id = ?", claimID))
}

func (r *ClaimRepository) ClientInfo(ctx context.Context, clientID int64) (*claim.ClientInfo, error) {
	var c clientDatamodel.Client
	err := store.Conn(ctx, r.db).Where("id = ?", clientID).First(&c).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, internal.ErrClientNotFound
		}
		return nil, err
	}
	return &claim.ClientInfo{
		Name:       strings.TrimSpace(c.FirstName + " " + c.LastName),
		MedicaidID: c.MedicaidID,
	}, nil
}

func (r *ClaimRepository) first(q *gorm.DB) (*claimDatamodel.Claim, error) {
	var c claimDatamodel.Claim
	if err := q.First(&c).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
