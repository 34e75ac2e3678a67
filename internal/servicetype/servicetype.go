package servicetype

import (
	"time"

	serviceTypeDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/servicetype"
)

// ServiceType is a billable service in the waiver catalog, identified by its
// procedure code.
type ServiceType struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	UnitRateCents int64     `json:"unit_rate_cents"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *ServiceType) ToResponse() ServiceTypeResponse {
	return ServiceTypeResponse{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Description:   s.Description,
		UnitRateCents: s.UnitRateCents,
	}
}

func (s *ServiceType) Activate() {
	s.IsActive = true
	s.UpdatedAt = time.Now()
}

func (s *ServiceType) Deactivate() {
	s.IsActive = false
	s.UpdatedAt = time.Now()
}

func NewServiceType(code, name, description string, unitRateCents int64) *ServiceType {
	now := time.Now()
	return &ServiceType{
		Code:          code,
		Name:          name,
		Description:   description,
		UnitRateCents: unitRateCents,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func ToDataModel(s *ServiceType) *serviceTypeDatamodel.ServiceType {
	return &serviceTypeDatamodel.ServiceType{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Description:   s.Description,
		UnitRateCents: s.UnitRateCents,
		IsActive:      s.IsActive,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func FromDataModel(s *serviceTypeDatamodel.ServiceType) *ServiceType {
	return &ServiceType{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Description:   s.Description,
		UnitRateCents: s.UnitRateCents,
		IsActive:      s.IsActive,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
