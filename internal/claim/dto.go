package claim

import (
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/core/common/validation"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
)

type GenerateClaimDTO struct {
	ClientID    int64          `json:"client_id"`
	PeriodStart transport.Date `json:"period_start"`
	PeriodEnd   transport.Date `json:"period_end"`
	BillingDate transport.Date `json:"billing_date,omitempty"`
}

func (dto GenerateClaimDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("client_id", dto.ClientID).Required()
	v.Field("period_start", dto.PeriodStart.Time).Required()
	v.Field("period_end", dto.PeriodEnd.Time).Required().NotBefore(dto.PeriodStart.Time, "period_start")
	if !dto.BillingDate.IsZero() {
		v.Field("billing_date", dto.BillingDate.Time).NotBefore(dto.PeriodStart.Time, "period_start")
	}
	return v.Validate()
}

type OutcomeDTO struct {
	Status            string         `json:"status"`
	DenialCode        string         `json:"denial_code,omitempty"`
	DenialReason      string         `json:"denial_reason,omitempty"`
	DenialAmountCents int64          `json:"denial_amount_cents,omitempty"`
	DeniedAt          transport.Date `json:"denied_at,omitempty"`
}

func (dto OutcomeDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("status", dto.Status).Required().OneOf(string(StatusAccepted), string(StatusDenied))
	if dto.Status == string(StatusDenied) {
		v.Field("denial_code", dto.DenialCode).Required().MaxLength(20)
		v.Field("denial_reason", dto.DenialReason).Required().MaxLength(500)
		v.Field("denial_amount_cents", dto.DenialAmountCents).NonNegative(internal.ErrCodeInvalidAmount)
	}
	return v.Validate()
}

type PaymentDTO struct {
	AmountCents int64 `json:"amount_cents"`
}

func (dto PaymentDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("amount_cents", dto.AmountCents).NonNegative(internal.ErrCodeInvalidAmount)
	return v.Validate()
}

// DenialNotice carries what the denial tracker needs to open a denial for a
// claim that was just marked denied.
type DenialNotice struct {
	ClaimID     int64
	Code        string
	Reason      string
	AmountCents int64
	DeniedAt    time.Time
}

// ClaimView is the detail returned by GET /claims/{id}.
type ClaimView struct {
	*Claim
	VarianceCents int64               `json:"variance_cents"`
	Events        []*usage.UsageEvent `json:"usage_events"`
	DenialID      *int64              `json:"denial_id,omitempty"`
}
