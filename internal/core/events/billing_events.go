package events

import (
	"time"
)

const (
	EventTypeAlertRaised       = "authorization.alert_raised"
	EventTypeClaimTransitioned = "claim.transitioned"
	EventTypeDenialOpened      = "denial.opened"
	EventTypeDenialOverdue     = "denial.overdue"
)

type AlertRaisedEvent struct {
	BaseEvent
	AuthorizationID int64   `json:"authorization_id"`
	ClientID        int64   `json:"client_id"`
	AlertLevel      string  `json:"alert_level"`
	Used            float64 `json:"used"`
	Allotment       float64 `json:"allotment"`
}

func NewAlertRaisedEvent(authorizationID, clientID int64, level string, used, allotment float64) *AlertRaisedEvent {
	return &AlertRaisedEvent{
		BaseEvent: newBaseEvent(EventTypeAlertRaised, map[string]interface{}{
			"authorization_id": authorizationID,
			"client_id":        clientID,
			"alert_level":      level,
			"used":             used,
			"allotment":        allotment,
		}),
		AuthorizationID: authorizationID,
		ClientID:        clientID,
		AlertLevel:      level,
		Used:            used,
		Allotment:       allotment,
	}
}

type ClaimTransitionedEvent struct {
	BaseEvent
	ClaimID     int64  `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`
	From        string `json:"from"`
	To          string `json:"to"`
}

func NewClaimTransitionedEvent(claimID int64, claimNumber, from, to string) *ClaimTransitionedEvent {
	return &ClaimTransitionedEvent{
		BaseEvent: newBaseEvent(EventTypeClaimTransitioned, map[string]interface{}{
			"claim_id":     claimID,
			"claim_number": claimNumber,
			"from":         from,
			"to":           to,
		}),
		ClaimID:     claimID,
		ClaimNumber: claimNumber,
		From:        from,
		To:          to,
	}
}

// DenialEvent carries both denial.opened and denial.overdue.
type DenialEvent struct {
	BaseEvent
	DenialID       int64     `json:"denial_id"`
	ClaimID        int64     `json:"claim_id"`
	AppealDeadline time.Time `json:"appeal_deadline"`
}

func newDenialEvent(eventType string, denialID, claimID int64, deadline time.Time) *DenialEvent {
	return &DenialEvent{
		BaseEvent: newBaseEvent(eventType, map[string]interface{}{
			"denial_id":       denialID,
			"claim_id":        claimID,
			"appeal_deadline": deadline,
		}),
		DenialID:       denialID,
		ClaimID:        claimID,
		AppealDeadline: deadline,
	}
}

func NewDenialOpenedEvent(denialID, claimID int64, deadline time.Time) *DenialEvent {
	return newDenialEvent(EventTypeDenialOpened, denialID, claimID, deadline)
}

func NewDenialOverdueEvent(denialID, claimID int64, deadline time.Time) *DenialEvent {
	return newDenialEvent(EventTypeDenialOverdue, denialID, claimID, deadline)
}
