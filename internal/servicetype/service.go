package servicetype

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dydact/scrive-aci-sub002/internal"
	serviceTypeDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/servicetype"
)

type RepositoryAPI interface {
	GetAll(ctx context.Context) ([]*serviceTypeDatamodel.ServiceType, error)
	GetByID(ctx context.Context, id int64) (*serviceTypeDatamodel.ServiceType, error)
	GetByCode(ctx context.Context, code string) (*serviceTypeDatamodel.ServiceType, error)
	Create(ctx context.Context, serviceType *serviceTypeDatamodel.ServiceType) error
	Update(ctx context.Context, serviceType *serviceTypeDatamodel.ServiceType) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetAllServiceTypes(ctx context.Context) ([]ServiceTypeResponse, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to get service types from repository", "error", err)
		return nil, internal.NewInternalError("failed to get service types", err)
	}

	responses := make([]ServiceTypeResponse, 0, len(rows))
	for _, row := range rows {
		st := FromDataModel(row)
		if st.IsActive {
			responses = append(responses, st.ToResponse())
		}
	}

	s.logger.Debug("retrieved service types", "count", len(responses))
	return responses, nil
}

// Lookup returns an active service type or ErrServiceTypeNotFound.
func (s *Service) Lookup(ctx context.Context, id int64) (*ServiceType, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to get service type", "service_type_id", id, "error", err)
		return nil, internal.NewInternalError("failed to get service type", err)
	}
	if row == nil || !row.IsActive {
		return nil, internal.ErrServiceTypeNotFound
	}
	return FromDataModel(row), nil
}

// Codes maps every service type id to its billing code, inactive ones
// included, so already billed usage can still be exported.
func (s *Service) Codes(ctx context.Context) (map[int64]string, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to get service types from repository", "error", err)
		return nil, internal.NewInternalError("failed to get service types", err)
	}
	codes := make(map[int64]string, len(rows))
	for _, row := range rows {
		codes[row.ID] = row.Code
	}
	return codes, nil
}

func (s *Service) IsValidServiceType(ctx context.Context, id int64) bool {
	st, err := s.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, internal.ErrServiceTypeNotFound) {
			s.logger.Warn("error checking service type validity", "service_type_id", id, "error", err)
		}
		return false
	}
	return st != nil
}

// Upsert creates the service type or refreshes an existing one with the same
// code. The seed command uses it to load the catalog.
func (s *Service) Upsert(ctx context.Context, st *ServiceType) (*ServiceType, error) {
	existing, err := s.repo.GetByCode(ctx, st.Code)
	if err != nil {
		return nil, internal.NewInternalError("failed to get service type", err)
	}

	if existing == nil {
		row := ToDataModel(st)
		if err := s.repo.Create(ctx, row); err != nil {
			s.logger.Error("failed to create service type", "code", st.Code, "error", err)
			return nil, internal.NewInternalError("failed to create service type", err)
		}
		s.logger.Info("service type created", "code", st.Code, "id", row.ID)
		return FromDataModel(row), nil
	}

	existing.Name = st.Name
	existing.Description = st.Description
	existing.UnitRateCents = st.UnitRateCents
	existing.IsActive = true
	if err := s.repo.Update(ctx, existing); err != nil {
		s.logger.Error("failed to update service type", "code", st.Code, "error", err)
		return nil, internal.NewInternalError("failed to update service type", err)
	}
	return FromDataModel(existing), nil
}
