package usage

import (
	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/core/common/validation"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type RecordUsageDTO struct {
	ClientID      int64          `json:"client_id"`
	ServiceTypeID int64          `json:"service_type_id"`
	ServiceDate   transport.Date `json:"service_date"`
	Units         float64        `json:"units"`
	SourceType    string         `json:"source_type"`
	SourceID      string         `json:"source_id"`
	Override      bool           `json:"override"`
}

func (dto RecordUsageDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("client_id", dto.ClientID).Required()
	v.Field("service_type_id", dto.ServiceTypeID).Required()
	v.Field("service_date", dto.ServiceDate.Time).Required()
	v.Field("units", dto.Units).Positive(internal.ErrCodeInvalidUnits).Custom(func(value interface{}) *internal.AppError {
		if value.(float64) > 24 {
			return internal.NewValidationFieldError("units", "units cannot exceed 24 per event", internal.ErrCodeInvalidUnits)
		}
		return nil
	})
	v.Field("source_type", dto.SourceType).Required().OneOf(SourceSession, SourceTimeEntry)
	v.Field("source_id", dto.SourceID).Required().MaxLength(64)
	return v.Validate()
}

// RecordResult is returned by record_usage. Duplicate is set when the source
// was already recorded and nothing was consumed.
type RecordResult struct {
	Event      *UsageEvent              `json:"event"`
	AlertLevel authorization.AlertLevel `json:"alert_level,omitempty"`
	Duplicate  bool                     `json:"duplicate"`
}

type UnbilledUsageResponse struct {
	ClientID   int64         `json:"client_id"`
	Events     []*UsageEvent `json:"events"`
	TotalCents int64         `json:"total_cents"`
	TotalUnits float64       `json:"total_units"`
}
