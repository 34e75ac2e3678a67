package authorization

import (
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/core/common/validation"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type CreateAuthorizationDTO struct {
	ClientID         int64          `json:"client_id"`
	Program          string         `json:"program"`
	ServiceTypeID    int64          `json:"service_type_id"`
	StartDate        transport.Date `json:"start_date"`
	EndDate          transport.Date `json:"end_date"`
	WeeklyAllotment  float64        `json:"weekly_allotment"`
	YearlyAllotment  float64        `json:"yearly_allotment"`
	UnitRateCents    int64          `json:"unit_rate_cents,omitempty"`
	WarningThreshold float64        `json:"warning_threshold,omitempty"`
	Rollover         bool           `json:"rollover"`
}

func (dto CreateAuthorizationDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("client_id", dto.ClientID).Required()
	v.Field("program", dto.Program).Required().MaxLength(100)
	v.Field("service_type_id", dto.ServiceTypeID).Required()
	v.Field("start_date", dto.StartDate.Time).Required()
	v.Field("end_date", dto.EndDate.Time).Required().NotBefore(dto.StartDate.Time, "start_date")
	v.Field("weekly_allotment", dto.WeeklyAllotment).NonNegative(internal.ErrCodeInvalidUnits)
	v.Field("yearly_allotment", dto.YearlyAllotment).Positive(internal.ErrCodeInvalidUnits)
	v.Field("unit_rate_cents", dto.UnitRateCents).NonNegative(internal.ErrCodeInvalidAmount)
	v.Field("warning_threshold", dto.WarningThreshold).Custom(func(value interface{}) *internal.AppError {
		t := value.(float64)
		if t < 0 || t >= 1 {
			return internal.NewValidationFieldError("warning_threshold", "warning_threshold must be between 0 and 1", internal.ErrCodeValidationFailed)
		}
		return nil
	})
	v.Field("weekly_allotment", dto.WeeklyAllotment).Custom(func(value interface{}) *internal.AppError {
		if value.(float64) > dto.YearlyAllotment {
			return internal.NewValidationFieldError("weekly_allotment", "weekly_allotment cannot exceed yearly_allotment", internal.ErrCodeInvalidUnits)
		}
		return nil
	})
	return v.Validate()
}

type StatusChangeDTO struct {
	Reason string `json:"reason"`
}

type ResetDTO struct {
	// AsOf lets an operator replay a missed reset; defaults to now.
	AsOf transport.Date `json:"as_of,omitempty"`
}

// UnitStatus is the read-only view returned by unit_status.
type UnitStatus struct {
	AuthorizationID int64      `json:"authorization_id"`
	ClientID        int64      `json:"client_id"`
	ServiceTypeID   int64      `json:"service_type_id"`
	Program         string     `json:"program"`
	FiscalYear      int        `json:"fiscal_year"`
	WeeklyAllotment float64    `json:"weekly_allotment"`
	Used            float64    `json:"used"`
	Remaining       float64    `json:"remaining"`
	YearlyAllotment float64    `json:"yearly_allotment"`
	YearlyUsed      float64    `json:"yearly_used"`
	YearlyRemaining float64    `json:"yearly_remaining"`
	AlertLevel      AlertLevel `json:"alert_level"`
	DaysSinceReset  int        `json:"days_since_reset"`
	ResetDue        bool       `json:"reset_due"`
	Status          string     `json:"status"`
	EndDate         time.Time  `json:"end_date"`
}

func (a *Authorization) ToStatus(now time.Time, intervalDays int) UnitStatus {
	return UnitStatus{
		AuthorizationID: a.ID,
		ClientID:        a.ClientID,
		ServiceTypeID:   a.ServiceTypeID,
		Program:         a.Program,
		FiscalYear:      a.FiscalYear,
		WeeklyAllotment: a.WeeklyAllotment,
		Used:            a.WeeklyUsed,
		Remaining:       a.WeeklyRemaining(),
		YearlyAllotment: a.YearlyAllotment,
		YearlyUsed:      a.YearlyUsed,
		YearlyRemaining: a.YearlyRemaining(),
		AlertLevel:      a.AlertLevel,
		DaysSinceReset:  a.DaysSinceReset(now),
		ResetDue:        a.ResetDue(now, intervalDays),
		Status:          a.Status,
		EndDate:         a.EndDate,
	}
}

type UnitStatusList struct {
	ClientID       int64        `json:"client_id"`
	Authorizations []UnitStatus `json:"authorizations"`
}
