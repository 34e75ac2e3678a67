package authorization

import (
	"math"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	authorizationDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/authorization"
)

type AlertLevel string

const (
	AlertNone      AlertLevel = "none"
	AlertNormal    AlertLevel = "normal"
	AlertWarning   AlertLevel = "warning"
	AlertCritical  AlertLevel = "critical"
	AlertExhausted AlertLevel = "exhausted"
)

// severity orders levels so the worse of two can be picked.
func (l AlertLevel) severity() int {
	switch l {
	case AlertWarning:
		return 2
	case AlertCritical:
		return 3
	case AlertExhausted:
		return 4
	case AlertNormal:
		return 1
	default:
		return 0
	}
}

// Raised reports whether the level should surface a banner.
func (l AlertLevel) Raised() bool {
	return l.severity() >= AlertWarning.severity()
}

const (
	StatusActive     = "active"
	StatusExpired    = "expired"
	StatusSuspended  = "suspended"
	StatusTerminated = "terminated"
)

const (
	DefaultWarningThreshold = 0.80
	CriticalThreshold       = 0.90
	DefaultResetInterval    = 7

	// unitEpsilon absorbs float noise on two-decimal unit values.
	unitEpsilon = 1e-9
)

// ComputeAlertLevel maps a usage ratio to an alert level. A threshold of
// zero or less falls back to the default warning threshold.
func ComputeAlertLevel(used, allotment, threshold float64) AlertLevel {
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}
	if used >= allotment {
		return AlertExhausted
	}
	ratio := used / allotment
	switch {
	case ratio >= CriticalThreshold:
		return AlertCritical
	case ratio >= threshold:
		return AlertWarning
	default:
		return AlertNormal
	}
}

type Authorization struct {
	ID               int64      `json:"id"`
	ClientID         int64      `json:"client_id"`
	Program          string     `json:"program"`
	ServiceTypeID    int64      `json:"service_type_id"`
	FiscalYear       int        `json:"fiscal_year"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	WeeklyAllotment  float64    `json:"weekly_allotment"`
	YearlyAllotment  float64    `json:"yearly_allotment"`
	WeeklyUsed       float64    `json:"weekly_used"`
	YearlyUsed       float64    `json:"yearly_used"`
	UnitRateCents    int64      `json:"unit_rate_cents"`
	WarningThreshold float64    `json:"warning_threshold"`
	AlertLevel       AlertLevel `json:"alert_level"`
	LastResetDate    time.Time  `json:"last_reset_date"`
	Rollover         bool       `json:"rollover"`
	Status           string     `json:"status"`
	TerminatedAt     *time.Time `json:"terminated_at,omitempty"`
	StatusReason     string     `json:"status_reason,omitempty"`
	RenewedFromID    *int64     `json:"renewed_from_id,omitempty"`
	CreatedBy        int64      `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CurrentAlertLevel is the worse of the weekly and yearly levels. Without a
// weekly cap only the yearly ratio counts.
func (a *Authorization) CurrentAlertLevel() AlertLevel {
	yearly := ComputeAlertLevel(a.YearlyUsed, a.YearlyAllotment, a.WarningThreshold)
	if a.WeeklyAllotment <= 0 {
		return yearly
	}
	weekly := ComputeAlertLevel(a.WeeklyUsed, a.WeeklyAllotment, a.WarningThreshold)
	if yearly.severity() > weekly.severity() {
		return yearly
	}
	return weekly
}

func (a *Authorization) WeeklyRemaining() float64 {
	if a.WeeklyAllotment <= 0 {
		return a.YearlyRemaining()
	}
	return math.Min(math.Max(0, a.WeeklyAllotment-a.WeeklyUsed), a.YearlyRemaining())
}

func (a *Authorization) YearlyRemaining() float64 {
	return math.Max(0, a.YearlyAllotment-a.YearlyUsed)
}

// DaysSinceReset counts whole calendar days between the last reset and now.
func (a *Authorization) DaysSinceReset(now time.Time) int {
	return int(dateOf(now).Sub(dateOf(a.LastResetDate)).Hours() / 24)
}

func (a *Authorization) ResetDue(now time.Time, intervalDays int) bool {
	if intervalDays <= 0 {
		intervalDays = DefaultResetInterval
	}
	return a.Status == StatusActive && a.DaysSinceReset(now) >= intervalDays
}

// Reset zeroes the weekly counter when the interval has elapsed and reports
// whether anything changed. The reset date becomes today, so the window
// rolls per authorization rather than on a fixed weekday.
func (a *Authorization) Reset(now time.Time, intervalDays int) bool {
	if !a.ResetDue(now, intervalDays) {
		return false
	}
	a.WeeklyUsed = 0
	a.AlertLevel = AlertNone
	a.LastResetDate = dateOf(now)
	a.UpdatedAt = now
	return true
}

// Covers reports whether an active authorization includes date.
func (a *Authorization) Covers(date time.Time) bool {
	d := dateOf(date)
	return a.Status == StatusActive && !d.Before(dateOf(a.StartDate)) && !d.After(dateOf(a.EndDate))
}

// Consume adds units to both counters. Without override it refuses to push
// either counter past its allotment and leaves both untouched.
func (a *Authorization) Consume(units float64, override bool, now time.Time) (AlertLevel, error) {
	if units <= 0 {
		return a.AlertLevel, internal.NewValidationFieldError("units", "units must be positive", internal.ErrCodeInvalidUnits)
	}
	if a.Status != StatusActive {
		return a.AlertLevel, internal.ErrNoActiveAuthorization
	}
	if !override {
		yearlyOver := a.YearlyUsed+units > a.YearlyAllotment+unitEpsilon
		weeklyOver := a.WeeklyAllotment > 0 && a.WeeklyUsed+units > a.WeeklyAllotment+unitEpsilon
		if yearlyOver || weeklyOver {
			return a.AlertLevel, internal.NewInsufficientUnitsError(units, a.WeeklyRemaining())
		}
	}

	a.WeeklyUsed = roundUnits(a.WeeklyUsed + units)
	a.YearlyUsed = roundUnits(a.YearlyUsed + units)
	a.AlertLevel = a.CurrentAlertLevel()
	a.UpdatedAt = now
	return a.AlertLevel, nil
}

func (a *Authorization) CanTransitionTo(status string) bool {
	switch a.Status {
	case StatusActive:
		return status == StatusSuspended || status == StatusTerminated || status == StatusExpired
	case StatusSuspended:
		return status == StatusActive || status == StatusTerminated
	default:
		return false
	}
}

func (a *Authorization) transition(status, reason string, now time.Time) error {
	if !a.CanTransitionTo(status) {
		return internal.NewInvalidTransitionError("authorization", a.Status, status)
	}
	a.Status = status
	a.StatusReason = reason
	a.UpdatedAt = now
	if status == StatusTerminated {
		t := now
		a.TerminatedAt = &t
	}
	return nil
}

// FiscalYearOf names the July–June fiscal year containing date after the
// calendar year it ends in.
func FiscalYearOf(date time.Time) int {
	if date.Month() >= time.July {
		return date.Year() + 1
	}
	return date.Year()
}

func FiscalYearBounds(fiscalYear int) (time.Time, time.Time) {
	start := time.Date(fiscalYear-1, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(fiscalYear, time.June, 30, 0, 0, 0, 0, time.UTC)
	return start, end
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func roundUnits(v float64) float64 {
	return math.Round(v*100) / 100
}

func ToDataModel(a *Authorization) *authorizationDatamodel.Authorization {
	return &authorizationDatamodel.Authorization{
		ID:               a.ID,
		ClientID:         a.ClientID,
		Program:          a.Program,
		ServiceTypeID:    a.ServiceTypeID,
		FiscalYear:       a.FiscalYear,
		StartDate:        a.StartDate,
		EndDate:          a.EndDate,
		WeeklyAllotment:  a.WeeklyAllotment,
		YearlyAllotment:  a.YearlyAllotment,
		WeeklyUsed:       a.WeeklyUsed,
		YearlyUsed:       a.YearlyUsed,
		UnitRateCents:    a.UnitRateCents,
		WarningThreshold: a.WarningThreshold,
		AlertLevel:       string(a.AlertLevel),
		LastResetDate:    a.LastResetDate,
		Rollover:         a.Rollover,
		Status:           a.Status,
		TerminatedAt:     a.TerminatedAt,
		StatusReason:     a.StatusReason,
		RenewedFromID:    a.RenewedFromID,
		CreatedBy:        a.CreatedBy,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func FromDataModel(a *authorizationDatamodel.Authorization) *Authorization {
	return &Authorization{
		ID:               a.ID,
		ClientID:         a.ClientID,
		Program:          a.Program,
		ServiceTypeID:    a.ServiceTypeID,
		FiscalYear:       a.FiscalYear,
		StartDate:        a.StartDate,
		EndDate:          a.EndDate,
		WeeklyAllotment:  a.WeeklyAllotment,
		YearlyAllotment:  a.YearlyAllotment,
		WeeklyUsed:       a.WeeklyUsed,
		YearlyUsed:       a.YearlyUsed,
		UnitRateCents:    a.UnitRateCents,
		WarningThreshold: a.WarningThreshold,
		AlertLevel:       AlertLevel(a.AlertLevel),
		LastResetDate:    a.LastResetDate,
		Rollover:         a.Rollover,
		Status:           a.Status,
		TerminatedAt:     a.TerminatedAt,
		StatusReason:     a.StatusReason,
		RenewedFromID:    a.RenewedFromID,
		CreatedBy:        a.CreatedBy,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
