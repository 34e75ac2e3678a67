package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	usageDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/usage"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

const ActionRecord = "usage.record"

type Repository interface {
	Create(ctx context.Context, e *usageDatamodel.UsageEvent) error
	GetBySource(ctx context.Context, sourceType, sourceID string) (*usageDatamodel.UsageEvent, error)
	// ListUnbilled returns unbilled events of a client with service dates in
	// [from, to]. With lock set the rows stay locked until the transaction
	// ends.
	ListUnbilled(ctx context.Context, clientID int64, from, to time.Time, lock bool) ([]*usageDatamodel.UsageEvent, error)
	ListByClaim(ctx context.Context, claimID int64) ([]*usageDatamodel.UsageEvent, error)
	MarkBilled(ctx context.Context, ids []int64, claimID int64) (int64, error)
	Rebill(ctx context.Context, fromClaimID, toClaimID int64) (int64, error)
}

type Ledger interface {
	Get(ctx context.Context, id int64) (*authorization.Authorization, error)
	FindActiveFor(ctx context.Context, clientID, serviceTypeID int64, date time.Time) (*authorization.Authorization, error)
	Consume(ctx context.Context, id int64, units float64, override bool) (authorization.AlertLevel, error)
}

type PermissionGate interface {
	Require(ctx context.Context, actor internal.Actor, capability auth.Capability, resource string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Service struct {
	repo      Repository
	tx        store.Runner
	ledger    Ledger
	gate      PermissionGate
	audit     audit.Recorder
	publisher EventPublisher
	logger    *slog.Logger
}

func NewService(
	repo Repository,
	tx store.Runner,
	ledger Ledger,
	gate PermissionGate,
	recorder audit.Recorder,
	publisher EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		ledger:    ledger,
		gate:      gate,
		audit:     recorder,
		publisher: publisher,
		logger:    logger,
	}
}

// Record consumes units for a completed session or approved time entry. A
// source that was already recorded returns the stored event and consumes
// nothing.
func (s *Service) Record(ctx context.Context, actor internal.Actor, dto RecordUsageDTO) (*RecordResult, error) {
	resource := fmt.Sprintf("client:%d", dto.ClientID)
	if err := s.gate.Require(ctx, actor, auth.Schedule, resource); err != nil {
		return nil, err
	}
	if dto.Override {
		if err := s.gate.Require(ctx, actor, auth.ManageAuthorizations, resource); err != nil {
			return nil, err
		}
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	ctx = internal.ContextWithActor(ctx, actor)
	serviceDate := dateOf(dto.ServiceDate.Time)

	var result *RecordResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		result = nil

		existing, err := s.repo.GetBySource(ctx, dto.SourceType, dto.SourceID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &RecordResult{Event: FromDataModel(existing), Duplicate: true}
			return nil
		}

		a, err := s.ledger.FindActiveFor(ctx, dto.ClientID, dto.ServiceTypeID, serviceDate)
		if err != nil {
			return err
		}

		level, err := s.ledger.Consume(ctx, a.ID, dto.Units, dto.Override)
		if err != nil {
			return err
		}

		event := &UsageEvent{
			ClientID:        dto.ClientID,
			AuthorizationID: a.ID,
			ServiceTypeID:   dto.ServiceTypeID,
			ServiceDate:     serviceDate,
			Units:           dto.Units,
			UnitRateCents:   a.UnitRateCents,
			AmountCents:     Amount(dto.Units, a.UnitRateCents),
			SourceType:      dto.SourceType,
			SourceID:        dto.SourceID,
			Override:        dto.Override,
			RecordedBy:      actor.UserID,
			CreatedAt:       time.Now().UTC(),
		}
		row := ToDataModel(event)
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		event.ID = row.ID

		result = &RecordResult{Event: event, AlertLevel: level}
		return nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		s.logger.Error("failed to record usage",
			"client_id", dto.ClientID,
			"source_type", dto.SourceType,
			"source_id", dto.SourceID,
			"error", err)
		return nil, internal.NewInternalError("failed to record usage", err)
	}

	if result.Duplicate {
		s.logger.Info("usage already recorded for source",
			"source_type", dto.SourceType,
			"source_id", dto.SourceID,
			"event_id", result.Event.ID)
		return result, nil
	}

	e := result.Event
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionRecord,
		Resource: fmt.Sprintf("usage_event:%d", e.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"authorization_id": e.AuthorizationID,
			"units":            e.Units,
			"amount_cents":     e.AmountCents,
			"source":           e.SourceType + ":" + e.SourceID,
			"override":         e.Override,
		},
	})
	s.logger.Info("usage recorded",
		"event_id", e.ID,
		"client_id", e.ClientID,
		"authorization_id", e.AuthorizationID,
		"units", e.Units,
		"alert_level", result.AlertLevel)

	if result.AlertLevel.Raised() {
		s.publishAlert(ctx, e.AuthorizationID, result.AlertLevel)
	}
	return result, nil
}

func (s *Service) publishAlert(ctx context.Context, authorizationID int64, level authorization.AlertLevel) {
	a, err := s.ledger.Get(ctx, authorizationID)
	if err != nil {
		s.logger.Warn("could not load authorization for alert", "authorization_id", authorizationID, "error", err)
		return
	}
	used, allotment := a.WeeklyUsed, a.WeeklyAllotment
	if allotment <= 0 || (level == authorization.AlertExhausted && a.YearlyUsed >= a.YearlyAllotment) {
		used, allotment = a.YearlyUsed, a.YearlyAllotment
	}
	event := events.NewAlertRaisedEvent(a.ID, a.ClientID, string(level), used, allotment)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish alert", "authorization_id", a.ID, "error", err)
	}
}

// ListUnbilled returns a client's unbilled events in [from, to].
func (s *Service) ListUnbilled(ctx context.Context, actor internal.Actor, clientID int64, from, to time.Time) (*UnbilledUsageResponse, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, fmt.Sprintf("client:%d", clientID)); err != nil {
		return nil, err
	}
	list, err := s.Unbilled(ctx, clientID, from, to, false)
	if err != nil {
		return nil, err
	}
	resp := &UnbilledUsageResponse{ClientID: clientID, Events: list, TotalCents: Total(list)}
	for _, e := range list {
		resp.TotalUnits += e.Units
	}
	return resp, nil
}

// Unbilled is the engine-internal form of ListUnbilled used by claim
// generation; lock must only be set inside a transaction.
func (s *Service) Unbilled(ctx context.Context, clientID int64, from, to time.Time, lock bool) ([]*UsageEvent, error) {
	rows, err := s.repo.ListUnbilled(ctx, clientID, dateOf(from), dateOf(to), lock)
	if err != nil {
		return nil, internal.NewInternalError("failed to load unbilled usage", err)
	}
	return FromDataModels(rows), nil
}

func (s *Service) ListByClaim(ctx context.Context, claimID int64) ([]*UsageEvent, error) {
	rows, err := s.repo.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, internal.NewInternalError("failed to load claim usage", err)
	}
	return FromDataModels(rows), nil
}

// MarkBilled attaches events to a claim. Any event already billed by another
// transaction surfaces as a concurrency conflict.
func (s *Service) MarkBilled(ctx context.Context, ids []int64, claimID int64) error {
	n, err := s.repo.MarkBilled(ctx, ids, claimID)
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		s.logger.Warn("usage events billed concurrently", "claim_id", claimID, "expected", len(ids), "updated", n)
		return internal.ErrConcurrencyConflict
	}
	return nil
}

// Rebill moves a denied claim's events to its replacement.
func (s *Service) Rebill(ctx context.Context, fromClaimID, toClaimID int64) (int, error) {
	n, err := s.repo.Rebill(ctx, fromClaimID, toClaimID)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
