package claim

import "time"

type Claim struct {
	ID              int64      `gorm:"primaryKey"`
	ClaimNumber     string     `gorm:"column:claim_number;uniqueIndex;not null"`
	ClientID        int64      `gorm:"column:client_id;not null;index"`
	ClientName      string     `gorm:"column:client_name"`
	ClientBillingID string     `gorm:"column:client_billing_id"`
	PeriodStart     time.Time  `gorm:"column:period_start;type:date;not null"`
	PeriodEnd       time.Time  `gorm:"column:period_end;type:date;not null"`
	BillingDate     time.Time  `gorm:"column:billing_date;type:date;not null"`
	TotalCents      int64      `gorm:"column:total_cents;not null"`
	PaymentCents    *int64     `gorm:"column:payment_cents"`
	Status          string     `gorm:"column:status;not null;index"`
	BatchID         *int64     `gorm:"column:batch_id;index"`
	ReplacesClaimID *int64     `gorm:"column:replaces_claim_id;index"`
	GeneratedAt     *time.Time `gorm:"column:generated_at"`
	SubmittedAt     *time.Time `gorm:"column:submitted_at"`
	DecidedAt       *time.Time `gorm:"column:decided_at"`
	PaidAt          *time.Time `gorm:"column:paid_at"`
	CreatedBy       int64      `gorm:"column:created_by;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Claim) TableName() string {
	return "claims"
}
