package claim

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	claimDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/claim"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusGenerated Status = "generated"
	StatusSubmitted Status = "submitted"
	StatusAccepted  Status = "accepted"
	StatusPaid      Status = "paid"
	StatusDenied    Status = "denied"
)

// transitions lists every forward move a claim may make on its own.
// denied -> paid is reached only through Settle.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusGenerated},
	StatusGenerated: {StatusSubmitted},
	StatusSubmitted: {StatusAccepted, StatusDenied},
	StatusAccepted:  {StatusPaid},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const numberPrefix = "CLM-"

// FormatClaimNumber renders CLM-YYYYMMDD-NNNN.
func FormatClaimNumber(billingDate time.Time, seq int) string {
	return fmt.Sprintf("%s%s-%04d", numberPrefix, billingDate.UTC().Format("20060102"), seq)
}

func ClaimNumberPrefix(billingDate time.Time) string {
	return numberPrefix + billingDate.UTC().Format("20060102") + "-"
}

// ParseSequence returns the daily sequence of a claim number.
func ParseSequence(number string) (int, error) {
	i := strings.LastIndex(number, "-")
	if i < 0 || !strings.HasPrefix(number, numberPrefix) {
		return 0, fmt.Errorf("malformed claim number %q", number)
	}
	return strconv.Atoi(number[i+1:])
}

type Claim struct {
	ID              int64      `json:"id"`
	ClaimNumber     string     `json:"claim_number"`
	ClientID        int64      `json:"client_id"`
	ClientName      string     `json:"client_name,omitempty"`
	ClientBillingID string     `json:"client_billing_id,omitempty"`
	PeriodStart     time.Time  `json:"period_start"`
	PeriodEnd       time.Time  `json:"period_end"`
	BillingDate     time.Time  `json:"billing_date"`
	TotalCents      int64      `json:"total_cents"`
	PaymentCents    *int64     `json:"payment_cents,omitempty"`
	Status          Status     `json:"status"`
	BatchID         *int64     `json:"batch_id,omitempty"`
	ReplacesClaimID *int64     `json:"replaces_claim_id,omitempty"`
	GeneratedAt     *time.Time `json:"generated_at,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TransitionTo moves the claim forward and stamps the matching timestamp.
func (c *Claim) TransitionTo(to Status, now time.Time) error {
	if !CanTransition(c.Status, to) {
		return internal.NewInvalidTransitionError("claim", string(c.Status), string(to))
	}
	if to == StatusSubmitted && c.TotalCents <= 0 {
		return internal.NewBusinessRuleError("a claim with zero total cannot be submitted", internal.ErrCodeEmptyClaim)
	}

	t := now
	switch to {
	case StatusGenerated:
		c.GeneratedAt = &t
	case StatusSubmitted:
		c.SubmittedAt = &t
	case StatusAccepted, StatusDenied:
		c.DecidedAt = &t
	case StatusPaid:
		c.PaidAt = &t
	}
	c.Status = to
	c.UpdatedAt = now
	return nil
}

// Pay records the payer's amount on an accepted claim.
func (c *Claim) Pay(amountCents int64, now time.Time) error {
	if err := c.TransitionTo(StatusPaid, now); err != nil {
		return err
	}
	c.PaymentCents = &amountCents
	return nil
}

// Settle pays a denied claim after its denial was resolved in the
// provider's favour.
func (c *Claim) Settle(amountCents int64, now time.Time) error {
	if c.Status != StatusDenied {
		return internal.NewInvalidTransitionError("claim", string(c.Status), string(StatusPaid))
	}
	t := now
	c.Status = StatusPaid
	c.PaidAt = &t
	c.PaymentCents = &amountCents
	c.UpdatedAt = now
	return nil
}

// Variance is the unpaid part of the total once a payment is recorded.
func (c *Claim) Variance() int64 {
	if c.PaymentCents == nil {
		return 0
	}
	return c.TotalCents - *c.PaymentCents
}

// RedactedBillingID keeps the last four characters of the Medicaid ID.
func (c *Claim) RedactedBillingID() string {
	id := c.ClientBillingID
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}

func ToDataModel(c *Claim) *claimDatamodel.Claim {
	return &claimDatamodel.Claim{
		ID:              c.ID,
		ClaimNumber:     c.ClaimNumber,
		ClientID:        c.ClientID,
		ClientName:      c.ClientName,
		ClientBillingID: c.ClientBillingID,
		PeriodStart:     c.PeriodStart,
		PeriodEnd:       c.PeriodEnd,
		BillingDate:     c.BillingDate,
		TotalCents:      c.TotalCents,
		PaymentCents:    c.PaymentCents,
		Status:          string(c.Status),
		BatchID:         c.BatchID,
		ReplacesClaimID: c.ReplacesClaimID,
		GeneratedAt:     c.GeneratedAt,
		SubmittedAt:     c.SubmittedAt,
		DecidedAt:       c.DecidedAt,
		PaidAt:          c.PaidAt,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func FromDataModel(c *claimDatamodel.Claim) *Claim {
	return &Claim{
		ID:              c.ID,
		ClaimNumber:     c.ClaimNumber,
		ClientID:        c.ClientID,
		ClientName:      c.ClientName,
		ClientBillingID: c.ClientBillingID,
		PeriodStart:     c.PeriodStart,
		PeriodEnd:       c.PeriodEnd,
		BillingDate:     c.BillingDate,
		TotalCents:      c.TotalCents,
		PaymentCents:    c.PaymentCents,
		Status:          Status(c.Status),
		BatchID:         c.BatchID,
		ReplacesClaimID: c.ReplacesClaimID,
		GeneratedAt:     c.GeneratedAt,
		SubmittedAt:     c.SubmittedAt,
		DecidedAt:       c.DecidedAt,
		PaidAt:          c.PaidAt,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
