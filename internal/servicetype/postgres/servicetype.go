package postgres

import (
	"context"

	"gorm.io/gorm"

	serviceTypeDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

type ServiceTypeRepository struct {
	db *gorm.DB
}

func NewServiceTypeRepository(db *gorm.DB) servicetype.RepositoryAPI {
	return &ServiceTypeRepository{db: db}
}

func (r *ServiceTypeRepository) GetAll(ctx context.Context) ([]*serviceTypeDatamodel.ServiceType, error) {
	var rows []*serviceTypeDatamodel.ServiceType
	err := store.Conn(ctx, r.db).Order("code ASC").Find(&rows).Error
	return rows, err
}

func (r *ServiceTypeRepository) GetByID(ctx context.Context, id int64) (*serviceTypeDatamodel.ServiceType, error) {
	var row serviceTypeDatamodel.ServiceType
	err := store.Conn(ctx, r.db).Where("id = ?", id).First(&row).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ServiceTypeRepository) GetByCode(ctx context.Context, code string) (*serviceTypeDatamodel.ServiceType, error) {
	var row serviceTypeDatamodel.ServiceType
	err := store.Conn(ctx, r.db).Where("code = ?", code).First(&row).Error
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ServiceTypeRepository) Create(ctx context.Context, row *serviceTypeDatamodel.ServiceType) error {
	return store.Conn(ctx, r.db).Create(row).Error
}

func (r *ServiceTypeRepository) Update(ctx context.Context, row *serviceTypeDatamodel.ServiceType) error {
	return store.Conn(ctx, r.db).Save(row).Error
}
