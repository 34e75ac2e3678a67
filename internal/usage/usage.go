package usage

import (
	"math"
	"time"

	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
)

const (
	SourceSession   = "session"
	SourceTimeEntry = "time_entry"
)

// UsageEvent is an immutable record of units consumed against one
// authorization. ClaimID is the claim currently billing the event; it only
// changes when a denied claim is resubmitted.
type UsageEvent struct {
	ID              int64     `json:"id"`
	ClientID        int64     `json:"client_id"`
	AuthorizationID int64     `json:"authorization_id"`
	ServiceTypeID   int64     `json:"service_type_id"`
	ServiceDate     time.Time `json:"service_date"`
	Units           float64   `json:"units"`
	UnitRateCents   int64     `json:"unit_rate_cents"`
	AmountCents     int64     `json:"amount_cents"`
	SourceType      string    `json:"source_type"`
	SourceID        string    `json:"source_id"`
	Override        bool      `json:"override"`
	RecordedBy      int64     `json:"recorded_by"`
	ClaimID         *int64    `json:"claim_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (e *UsageEvent) IsBilled() bool {
	return e.ClaimID != nil
}

// Amount returns units × rate in cents, rounded half away from zero.
func Amount(units float64, rateCents int64) int64 {
	return int64(math.Round(units * float64(rateCents)))
}

// Total sums event amounts in cents.
func Total(events []*UsageEvent) int64 {
	var total int64
	for _, e := range events {
		total += e.AmountCents
	}
	return total
}

func ToDataModel(e *UsageEvent) *usageDatamodel.UsageEvent {
	return &usageDatamodel.UsageEvent{
		ID:              e.ID,
		ClientID:        e.ClientID,
		AuthorizationID: e.AuthorizationID,
		ServiceTypeID:   e.ServiceTypeID,
		ServiceDate:     e.ServiceDate,
		Units:           e.Units,
		UnitRateCents:   e.UnitRateCents,
		AmountCents:     e.AmountCents,
		SourceType:      e.SourceType,
		SourceID:        e.SourceID,
		Override:        e.Override,
		RecordedBy:      e.RecordedBy,
		ClaimID:         e.ClaimID,
		CreatedAt:       e.CreatedAt,
	}
}

func FromDataModel(e *usageDatamodel.UsageEvent) *UsageEvent {
	return &UsageEvent{
		ID:              e.ID,
		ClientID:        e.ClientID,
		AuthorizationID: e.AuthorizationID,
		ServiceTypeID:   e.ServiceTypeID,
		ServiceDate:     e.ServiceDate,
		Units:           e.Units,
		UnitRateCents:   e.UnitRateCents,
		AmountCents:     e.AmountCents,
		SourceType:      e.SourceType,
		SourceID:        e.SourceID,
		Override:        e.Override,
		RecordedBy:      e.RecordedBy,
		ClaimID:         e.ClaimID,
		CreatedAt:       e.CreatedAt,
	}
}

func FromDataModels(rows []*usageDatamodel.UsageEvent) []*UsageEvent {
	out := make([]*UsageEvent, len(rows))
	for i, row := range rows {
		out[i] = FromDataModel(row)
	}
	return out
}
