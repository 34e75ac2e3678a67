package authorization

import "time"

type Authorization struct {
	ID               int64      `gorm:"primaryKey"`
	ClientID         int64      `gorm:"column:client_id;not null;index:idx_authorizations_client_service"`
	Program          string     `gorm:"column:program;not null"`
	ServiceTypeID    int64      `gorm:"column:service_type_id;not null;index:idx_authorizations_client_service"`
	FiscalYear       int        `gorm:"column:fiscal_year;not null"`
	StartDate        time.Time  `gorm:"column:start_date;type:date;not null"`
	EndDate          time.Time  `gorm:"column:end_date;type:date;not null"`
	WeeklyAllotment  float64    `gorm:"column:weekly_allotment;type:numeric(10,2);not null"`
	YearlyAllotment  float64    `gorm:"column:yearly_allotment;type:numeric(10,2);not null"`
	WeeklyUsed       float64    `gorm:"column:weekly_used;type:numeric(10,2);not null"`
	YearlyUsed       float64    `gorm:"column:yearly_used;type:numeric(10,2);not null"`
	UnitRateCents    int64      `gorm:"column:unit_rate_cents;not null"`
	WarningThreshold float64    `gorm:"column:warning_threshold;type:numeric(4,2);not null"`
	AlertLevel       string     `gorm:"column:alert_level;not null"`
	LastResetDate    time.Time  `gorm:"column:last_reset_date;type:date;not null"`
	Rollover         bool       `gorm:"column:rollover;not null"`
	Status           string     `gorm:"column:status;not null;index"`
	TerminatedAt     *time.Time `gorm:"column:terminated_at"`
	StatusReason     string     `gorm:"column:status_reason"`
	RenewedFromID    *int64     `gorm:"column:renewed_from_id"`
	CreatedBy        int64      `gorm:"column:created_by;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Authorization) TableName() string {
	return "authorizations"
}
