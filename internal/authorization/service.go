package authorization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	authorizationDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

const (
	ActionCreate     = "authorization.create"
	ActionConsume    = "authorization.consume"
	ActionReset      = "authorization.reset"
	ActionSuspend    = "authorization.suspend"
	ActionReactivate = "authorization.reactivate"
	ActionTerminate  = "authorization.terminate"
	ActionExpire     = "authorization.expire"
	ActionRenew      = "authorization.renew"
)

type Repository interface {
	Create(ctx context.Context, a *authorizationDatamodel.Authorization) error
	GetByID(ctx context.Context, id int64) (*authorizationDatamodel.Authorization, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*authorizationDatamodel.Authorization, error)
	FindActive(ctx context.Context, clientID, serviceTypeID int64, on time.Time) (*authorizationDatamodel.Authorization, error)
	ListActiveByClient(ctx context.Context, clientID int64) ([]*authorizationDatamodel.Authorization, error)
	CountOverlapping(ctx context.Context, clientID, serviceTypeID int64, program string, start, end time.Time) (int64, error)
	Update(ctx context.Context, a *authorizationDatamodel.Authorization) error
	ListDueForReset(ctx context.Context, cutoff time.Time) ([]int64, error)
	ListLapsed(ctx context.Context, today time.Time) ([]int64, error)
}

type PermissionGate interface {
	Require(ctx context.Context, actor internal.Actor, capability auth.Capability, resource string) error
	RequireAny(ctx context.Context, actor internal.Actor, resource string, capabilities ...auth.Capability) error
}

type ServiceCatalog interface {
	Lookup(ctx context.Context, id int64) (*servicetype.ServiceType, error)
}

type Service struct {
	repo             Repository
	tx               store.Runner
	gate             PermissionGate
	catalog          ServiceCatalog
	audit            audit.Recorder
	logger           *slog.Logger
	warningThreshold float64
	resetInterval    int
	now              func() time.Time
}

func NewService(
	repo Repository,
	tx store.Runner,
	gate PermissionGate,
	catalog ServiceCatalog,
	recorder audit.Recorder,
	cfg internal.BillingConfig,
	logger *slog.Logger,
) *Service {
	threshold := cfg.WarningThreshold
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}
	interval := cfg.ResetIntervalDays
	if interval <= 0 {
		interval = DefaultResetInterval
	}
	return &Service{
		repo:             repo,
		tx:               tx,
		gate:             gate,
		catalog:          catalog,
		audit:            recorder,
		logger:           logger,
		warningThreshold: threshold,
		resetInterval:    interval,
		now:              time.Now,
	}
}

// SetClock replaces the service clock. Used by tests and the sweep replay.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func clientResource(clientID int64) string {
	return fmt.Sprintf("client:%d", clientID)
}

func authResource(id int64) string {
	return fmt.Sprintf("authorization:%d", id)
}

// GetStatus is read-only: it reports whether a reset is due but never
// performs one.
func (s *Service) GetStatus(ctx context.Context, actor internal.Actor, clientID, serviceTypeID int64) (*UnitStatus, error) {
	if err := s.gate.RequireAny(ctx, actor, clientResource(clientID), auth.ViewBilling, auth.Schedule); err != nil {
		return nil, err
	}

	now := s.now()
	row, err := s.repo.FindActive(ctx, clientID, serviceTypeID, now)
	if err != nil {
		s.logger.Error("failed to find authorization", "client_id", clientID, "service_type_id", serviceTypeID, "error", err)
		return nil, internal.NewInternalError("failed to load authorization", err)
	}
	if row == nil {
		return nil, internal.ErrAuthorizationNotFound
	}

	status := FromDataModel(row).ToStatus(now, s.resetInterval)
	return &status, nil
}

func (s *Service) ListStatus(ctx context.Context, actor internal.Actor, clientID int64) (*UnitStatusList, error) {
	if err := s.gate.RequireAny(ctx, actor, clientResource(clientID), auth.ViewBilling, auth.Schedule); err != nil {
		return nil, err
	}

	rows, err := s.repo.ListActiveByClient(ctx, clientID)
	if err != nil {
		s.logger.Error("failed to list authorizations", "client_id", clientID, "error", err)
		return nil, internal.NewInternalError("failed to load authorizations", err)
	}

	now := s.now()
	list := &UnitStatusList{ClientID: clientID, Authorizations: make([]UnitStatus, 0, len(rows))}
	for _, row := range rows {
		list.Authorizations = append(list.Authorizations, FromDataModel(row).ToStatus(now, s.resetInterval))
	}
	return list, nil
}

// Get loads an authorization without a capability check; callers inside the
// engine have already been authorized.
func (s *Service) Get(ctx context.Context, id int64) (*Authorization, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, internal.NewInternalError("failed to load authorization", err)
	}
	if row == nil {
		return nil, internal.ErrAuthorizationNotFound
	}
	return FromDataModel(row), nil
}

// FindActiveFor returns the active authorization covering date.
func (s *Service) FindActiveFor(ctx context.Context, clientID, serviceTypeID int64, date time.Time) (*Authorization, error) {
	row, err := s.repo.FindActive(ctx, clientID, serviceTypeID, date)
	if err != nil {
		return nil, internal.NewInternalError("failed to load authorization", err)
	}
	if row == nil {
		return nil, internal.ErrNoActiveAuthorization
	}
	return FromDataModel(row), nil
}

// ResetIfDue zeroes the weekly counter when the reset interval has elapsed.
// Calling it again in the same window changes nothing. The system actor is
// used by the sweep and skips the capability check.
func (s *Service) ResetIfDue(ctx context.Context, actor internal.Actor, id int64, now time.Time) (*UnitStatus, bool, error) {
	if !actor.IsSystem() {
		if err := s.gate.Require(ctx, actor, auth.ManageAuthorizations, authResource(id)); err != nil {
			return nil, false, err
		}
	}

	var (
		a       *Authorization
		changed bool
		before  float64
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrAuthorizationNotFound
		}
		a = FromDataModel(row)
		before = a.WeeklyUsed
		changed = a.Reset(now, s.resetInterval)
		if !changed {
			return nil
		}
		return s.repo.Update(ctx, ToDataModel(a))
	})
	if err != nil {
		return nil, false, s.wrap(err, "failed to reset authorization", "authorization_id", id)
	}

	if changed {
		s.recordReset(ctx, actor.UserID, a, before)
	}

	status := a.ToStatus(now, s.resetInterval)
	return &status, changed, nil
}

// Consume locks the authorization row and adds units. A weekly window that
// has elapsed is reset first, under the same lock, so the check never runs
// against last week's counter. It joins the caller's transaction when one is
// bound to ctx. A rejected call leaves both counters as they were.
func (s *Service) Consume(ctx context.Context, id int64, units float64, override bool) (AlertLevel, error) {
	var (
		level       AlertLevel
		a           *Authorization
		reset       bool
		weeklyStale float64
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrAuthorizationNotFound
		}
		a = FromDataModel(row)

		now := s.now()
		weeklyStale = a.WeeklyUsed
		reset = a.Reset(now, s.resetInterval)

		// A rejection rolls the reset back too; the next call repeats it.
		level, err = a.Consume(units, override, now)
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, ToDataModel(a)); err != nil {
			return err
		}
		if reset {
			s.recordReset(ctx, internal.SystemActor.UserID, a, weeklyStale)
		}
		return nil
	})

	actorID := int64(0)
	if actor, ok := internal.ActorFromContext(ctx); ok {
		actorID = actor.UserID
	}

	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Type != internal.ErrorTypeInternal {
			metrics.ConsumeRejected.WithLabelValues(string(appErr.Code)).Inc()
			s.audit.Record(ctx, audit.Entry{
				ActorID:  actorID,
				Action:   ActionConsume,
				Resource: authResource(id),
				Result:   audit.ResultFailure,
				Detail:   map[string]any{"units": units, "override": override, "code": string(appErr.Code)},
			})
			s.logger.Warn("consumption rejected", "authorization_id", id, "units", units, "code", appErr.Code)
			return "", err
		}
		return "", s.wrap(err, "failed to consume units", "authorization_id", id)
	}

	entry := audit.Entry{
		ActorID:  actorID,
		Action:   ActionConsume,
		Resource: authResource(id),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"units":       units,
			"override":    override,
			"weekly_used": a.WeeklyUsed,
			"yearly_used": a.YearlyUsed,
			"alert_level": string(level),
		},
	}
	store.AfterCommit(ctx, func() {
		metrics.UnitsConsumed.Add(units)
		metrics.AlertsRaised.WithLabelValues(string(level)).Inc()
		s.audit.Record(ctx, entry)
	})
	if override && a.YearlyUsed > a.YearlyAllotment {
		s.logger.Warn("yearly allotment exceeded by override",
			"authorization_id", id,
			"yearly_used", a.YearlyUsed,
			"yearly_allotment", a.YearlyAllotment)
	}
	return level, nil
}

// recordReset audits a weekly reset once the surrounding transaction has
// committed.
func (s *Service) recordReset(ctx context.Context, actorID int64, a *Authorization, before float64) {
	entry := audit.Entry{
		ActorID:  actorID,
		Action:   ActionReset,
		Resource: authResource(a.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"weekly_used_before": before,
			"reset_date":         a.LastResetDate.Format("2006-01-02"),
		},
	}
	store.AfterCommit(ctx, func() {
		metrics.AuthorizationResets.Inc()
		s.audit.Record(ctx, entry)
		s.logger.Info("authorization weekly counter reset",
			"authorization_id", a.ID,
			"weekly_used_before", before,
			"actor_id", actorID)
	})
}

func (s *Service) Create(ctx context.Context, actor internal.Actor, dto CreateAuthorizationDTO) (*Authorization, error) {
	if err := s.gate.Require(ctx, actor, auth.ManageAuthorizations, clientResource(dto.ClientID)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	st, err := s.catalog.Lookup(ctx, dto.ServiceTypeID)
	if err != nil {
		return nil, err
	}

	start, end := dateOf(dto.StartDate.Time), dateOf(dto.EndDate.Time)
	fiscalYear := FiscalYearOf(start)
	if _, fyEnd := FiscalYearBounds(fiscalYear); end.After(fyEnd) {
		return nil, internal.NewValidationFieldError("end_date",
			fmt.Sprintf("end_date must fall within fiscal year %d (ends %s)", fiscalYear, fyEnd.Format("2006-01-02")),
			internal.ErrCodeInvalidDate)
	}

	rate := dto.UnitRateCents
	if rate == 0 {
		rate = st.UnitRateCents
	}
	threshold := dto.WarningThreshold
	if threshold == 0 {
		threshold = s.warningThreshold
	}

	now := s.now().UTC()
	lastReset := dateOf(now)
	if start.After(lastReset) {
		lastReset = start
	}

	a := &Authorization{
		ClientID:         dto.ClientID,
		Program:          dto.Program,
		ServiceTypeID:    dto.ServiceTypeID,
		FiscalYear:       fiscalYear,
		StartDate:        start,
		EndDate:          end,
		WeeklyAllotment:  dto.WeeklyAllotment,
		YearlyAllotment:  dto.YearlyAllotment,
		UnitRateCents:    rate,
		WarningThreshold: threshold,
		AlertLevel:       AlertNone,
		LastResetDate:    lastReset,
		Rollover:         dto.Rollover,
		Status:           StatusActive,
		CreatedBy:        actor.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.insert(ctx, a); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionCreate,
		Resource: authResource(a.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"client_id":        a.ClientID,
			"service_type_id":  a.ServiceTypeID,
			"fiscal_year":      a.FiscalYear,
			"weekly_allotment": a.WeeklyAllotment,
			"yearly_allotment": a.YearlyAllotment,
		},
	})
	s.logger.Info("authorization created",
		"authorization_id", a.ID,
		"client_id", a.ClientID,
		"service_type_id", a.ServiceTypeID,
		"fiscal_year", a.FiscalYear)
	return a, nil
}

// insert rejects a window that overlaps another live authorization for the
// same client, program and service type.
func (s *Service) insert(ctx context.Context, a *Authorization) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.CountOverlapping(ctx, a.ClientID, a.ServiceTypeID, a.Program, a.StartDate, a.EndDate)
		if err != nil {
			return err
		}
		if n > 0 {
			return internal.ErrOverlappingWindow
		}
		row := ToDataModel(a)
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		a.ID = row.ID
		return nil
	})
	if err != nil {
		return s.wrap(err, "failed to create authorization", "client_id", a.ClientID)
	}
	return nil
}

func (s *Service) Suspend(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error) {
	return s.changeStatus(ctx, actor, id, StatusSuspended, reason, ActionSuspend)
}

func (s *Service) Reactivate(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error) {
	return s.changeStatus(ctx, actor, id, StatusActive, reason, ActionReactivate)
}

func (s *Service) Terminate(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error) {
	return s.changeStatus(ctx, actor, id, StatusTerminated, reason, ActionTerminate)
}

func (s *Service) changeStatus(ctx context.Context, actor internal.Actor, id int64, status, reason, action string) (*Authorization, error) {
	if !actor.IsSystem() {
		if err := s.gate.Require(ctx, actor, auth.ManageAuthorizations, authResource(id)); err != nil {
			return nil, err
		}
	}

	var (
		a    *Authorization
		from string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrAuthorizationNotFound
		}
		a = FromDataModel(row)
		from = a.Status
		if err := a.transition(status, reason, s.now().UTC()); err != nil {
			return err
		}
		return s.repo.Update(ctx, ToDataModel(a))
	})
	if err != nil {
		return nil, s.wrap(err, "failed to change authorization status", "authorization_id", id, "status", status)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   action,
		Resource: authResource(id),
		Result:   audit.ResultSuccess,
		Detail:   map[string]any{"from": from, "to": status, "reason": reason},
	})
	s.logger.Info("authorization status changed",
		"authorization_id", id,
		"from", from,
		"to", status,
		"actor_id", actor.UserID)
	return a, nil
}

// Renew opens the next fiscal year's authorization. With rollover set the
// unused yearly units are added to the new yearly allotment. The renewed
// authorization is expired when it is still active.
func (s *Service) Renew(ctx context.Context, actor internal.Actor, id int64) (*Authorization, error) {
	if err := s.gate.Require(ctx, actor, auth.ManageAuthorizations, authResource(id)); err != nil {
		return nil, err
	}

	var next *Authorization
	var carried float64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrAuthorizationNotFound
		}
		prev := FromDataModel(row)
		if prev.Status != StatusActive && prev.Status != StatusExpired {
			return internal.NewInvalidTransitionError("authorization", prev.Status, "renewed")
		}

		if prev.Rollover {
			carried = prev.YearlyRemaining()
		}
		fiscalYear := prev.FiscalYear + 1
		start, end := FiscalYearBounds(fiscalYear)
		now := s.now().UTC()
		prevID := prev.ID

		next = &Authorization{
			ClientID:         prev.ClientID,
			Program:          prev.Program,
			ServiceTypeID:    prev.ServiceTypeID,
			FiscalYear:       fiscalYear,
			StartDate:        start,
			EndDate:          end,
			WeeklyAllotment:  prev.WeeklyAllotment,
			YearlyAllotment:  roundUnits(prev.YearlyAllotment + carried),
			UnitRateCents:    prev.UnitRateCents,
			WarningThreshold: prev.WarningThreshold,
			AlertLevel:       AlertNone,
			LastResetDate:    start,
			Rollover:         prev.Rollover,
			Status:           StatusActive,
			RenewedFromID:    &prevID,
			CreatedBy:        actor.UserID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.insert(ctx, next); err != nil {
			return err
		}

		if prev.Status == StatusActive {
			if err := prev.transition(StatusExpired, fmt.Sprintf("renewed as %d", next.ID), now); err != nil {
				return err
			}
			return s.repo.Update(ctx, ToDataModel(prev))
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to renew authorization", "authorization_id", id)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionRenew,
		Resource: authResource(id),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"renewed_as":       next.ID,
			"fiscal_year":      next.FiscalYear,
			"carried_units":    carried,
			"yearly_allotment": next.YearlyAllotment,
		},
	})
	s.logger.Info("authorization renewed",
		"authorization_id", id,
		"renewed_as", next.ID,
		"fiscal_year", next.FiscalYear,
		"carried_units", carried)
	return next, nil
}

// DueForReset lists active authorizations whose weekly window has elapsed.
func (s *Service) DueForReset(ctx context.Context, now time.Time) ([]int64, error) {
	cutoff := dateOf(now).AddDate(0, 0, -s.resetInterval)
	ids, err := s.repo.ListDueForReset(ctx, cutoff)
	if err != nil {
		return nil, internal.NewInternalError("failed to list authorizations due for reset", err)
	}
	return ids, nil
}

// ExpireLapsed closes active authorizations whose end date has passed and
// returns how many were expired.
func (s *Service) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	today := dateOf(now)
	ids, err := s.repo.ListLapsed(ctx, today)
	if err != nil {
		return 0, internal.NewInternalError("failed to list lapsed authorizations", err)
	}

	expired := 0
	for _, id := range ids {
		changed := false
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			changed = false
			row, err := s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if row == nil {
				return nil
			}
			a := FromDataModel(row)
			if a.Status != StatusActive || !dateOf(a.EndDate).Before(today) {
				return nil
			}
			if err := a.transition(StatusExpired, "end date passed", now.UTC()); err != nil {
				return err
			}
			changed = true
			return s.repo.Update(ctx, ToDataModel(a))
		})
		if err != nil {
			s.logger.Error("failed to expire authorization", "authorization_id", id, "error", err)
			continue
		}
		if !changed {
			continue
		}
		expired++
		s.audit.Record(ctx, audit.Entry{
			ActorID:  internal.SystemActor.UserID,
			Action:   ActionExpire,
			Resource: authResource(id),
			Result:   audit.ResultSuccess,
		})
	}

	if expired > 0 {
		s.logger.Info("lapsed authorizations expired", "count", expired)
	}
	return expired, nil
}

// wrap passes AppErrors through and hides everything else behind a generic
// internal error.
func (s *Service) wrap(err error, msg string, args ...any) error {
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	s.logger.Error(msg, append(args, "error", err)...)
	return internal.NewInternalError(msg, err)
}
