package usage

import "time"

type UsageEvent struct {
	ID              int64     `gorm:"primaryKey"`
	ClientID        int64     `gorm:"column:client_id;not null;index:idx_usage_client_date"`
	AuthorizationID int64     `gorm:"column:authorization_id;not null;index"`
	ServiceTypeID   int64     `gorm:"column:service_type_id;not null"`
	ServiceDate     time.Time `gorm:"column:service_date;type:date;not null;index:idx_usage_client_date"`
	Units           float64   `gorm:"column:units;type:numeric(10,2);not null"`
	UnitRateCents   int64     `gorm:"column:unit_rate_cents;not null"`
	AmountCents     int64     `gorm:"column:amount_cents;not null"`
	SourceType      string    `gorm:"column:source_type;not null;uniqueIndex:idx_usage_source"`
	SourceID        string    `gorm:"column:source_id;not null;uniqueIndex:idx_usage_source"`
	Override        bool      `gorm:"column:override;not null"`
	RecordedBy      int64     `gorm:"column:recorded_by;not null"`
	ClaimID         *int64    `gorm:"column:claim_id;index"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}

// ClaimUsage records every claim that has billed an event. Rows are only
// ever inserted, so a denied claim keeps its history after a resubmission
// moves the event's current claim.
type ClaimUsage struct {
	ClaimID      int64     `gorm:"column:claim_id;primaryKey;autoIncrement:false"`
	UsageEventID int64     `gorm:"column:usage_event_id;primaryKey;autoIncrement:false;index"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ClaimUsage) TableName() string {
	return "claim_usage_events"
}
