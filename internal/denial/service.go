package denial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/claim"
	denialDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/denial"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

const (
	ActionOpen         = "denial.open"
	ActionAppeal       = "denial.appeal"
	ActionResolve      = "denial.resolve"
	ActionAddTask      = "denial.task_add"
	ActionCompleteTask = "denial.task_complete"
	ActionOverdue      = "denial.overdue"
)

type Repository interface {
	Create(ctx context.Context, d *denialDatamodel.Denial) error
	GetByID(ctx context.Context, id int64) (*denialDatamodel.Denial, error)
	GetForUpdate(ctx context.Context, id int64) (*denialDatamodel.Denial, error)
	GetByClaim(ctx context.Context, claimID int64) (*denialDatamodel.Denial, error)
	Update(ctx context.Context, d *denialDatamodel.Denial) error
	CreateAppeal(ctx context.Context, a *denialDatamodel.Appeal) error
	ListAppeals(ctx context.Context, denialID int64) ([]*denialDatamodel.Appeal, error)
	CreateTask(ctx context.Context, t *denialDatamodel.Task) error
	GetTask(ctx context.Context, denialID, taskID int64) (*denialDatamodel.Task, error)
	UpdateTask(ctx context.Context, t *denialDatamodel.Task) error
	ListTasks(ctx context.Context, denialID int64) ([]*denialDatamodel.Task, error)
	// ListPastDeadline returns open denials whose deadline is before now and
	// that are not flagged yet.
	ListPastDeadline(ctx context.Context, now time.Time) ([]int64, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*denialDatamodel.Denial, error)
}

// ClaimSettler pays the parent claim when a denial is resolved as paid.
type ClaimSettler interface {
	SettleDenied(ctx context.Context, claimID int64, amountCents int64) error
}

type PermissionGate interface {
	Require(ctx context.Context, actor internal.Actor, capability auth.Capability, resource string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Service struct {
	repo       Repository
	tx         store.Runner
	claims     ClaimSettler
	gate       PermissionGate
	audit      audit.Recorder
	publisher  EventPublisher
	windowDays int
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(
	repo Repository,
	tx store.Runner,
	claims ClaimSettler,
	gate PermissionGate,
	recorder audit.Recorder,
	publisher EventPublisher,
	cfg internal.BillingConfig,
	logger *slog.Logger,
) *Service {
	window := cfg.AppealWindowDays
	if window <= 0 {
		window = DefaultAppealWindowDays
	}
	return &Service{
		repo:       repo,
		tx:         tx,
		claims:     claims,
		gate:       gate,
		audit:      recorder,
		publisher:  publisher,
		windowDays: window,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func denialResource(id int64) string {
	return fmt.Sprintf("denial:%d", id)
}

// Open records the denial of a claim. Inside a caller's transaction the
// audit entry and the opened event wait for that transaction to commit.
func (s *Service) Open(ctx context.Context, claimID int64, code, reason string, amountCents int64, deniedAt time.Time) (*Denial, error) {
	d := NewDenial(claimID, code, reason, amountCents, deniedAt, s.windowDays)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if existing != nil {
			return internal.NewBusinessRuleError(
				fmt.Sprintf("claim %d already has a denial", claimID), internal.ErrCodeInvalidTransition)
		}
		now := s.now().UTC()
		d.CreatedAt, d.UpdatedAt = now, now
		row := ToDataModel(d)
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		d.ID = row.ID
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to open denial", "claim_id", claimID)
	}

	entry := audit.Entry{
		ActorID:  actorID(ctx),
		Action:   ActionOpen,
		Resource: denialResource(d.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"claim_id":        claimID,
			"code":            code,
			"amount_cents":    amountCents,
			"appeal_deadline": d.AppealDeadline.Format(time.RFC3339),
		},
	}
	store.AfterCommit(ctx, func() {
		s.audit.Record(ctx, entry)
		s.publish(ctx, events.NewDenialOpenedEvent(d.ID, d.ClaimID, d.AppealDeadline))
		s.logger.Info("denial opened",
			"denial_id", d.ID,
			"claim_id", claimID,
			"code", code,
			"appeal_deadline", d.AppealDeadline)
	})
	return d, nil
}

// OpenDenial lets the claim state machine open a denial inside its outcome
// transaction.
func (s *Service) OpenDenial(ctx context.Context, notice claim.DenialNotice) (int64, error) {
	d, err := s.Open(ctx, notice.ClaimID, notice.Code, notice.Reason, notice.AmountCents, notice.DeniedAt)
	if err != nil {
		return 0, err
	}
	return d.ID, nil
}

// CloseForResubmission resolves the open denial of claimID inside the
// resubmit transaction. A claim without an open denial is left alone.
func (s *Service) CloseForResubmission(ctx context.Context, claimID, replacementID int64) error {
	found, err := s.repo.GetByClaim(ctx, claimID)
	if err != nil || found == nil {
		return err
	}
	row, err := s.repo.GetForUpdate(ctx, found.ID)
	if err != nil || row == nil {
		return err
	}
	d := FromDataModel(row)
	if d.Status == StatusResolved {
		return nil
	}
	by := actorID(ctx)
	if err := d.Resolve(OutcomeResubmitted, nil, by, s.now().UTC()); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, ToDataModel(d)); err != nil {
		return err
	}

	entry := audit.Entry{
		ActorID:  by,
		Action:   ActionResolve,
		Resource: denialResource(d.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"outcome":              string(OutcomeResubmitted),
			"claim_id":             claimID,
			"replacement_claim_id": replacementID,
		},
	}
	store.AfterCommit(ctx, func() {
		s.audit.Record(ctx, entry)
		s.logger.Info("denial closed by resubmission",
			"denial_id", d.ID,
			"claim_id", claimID,
			"replacement_claim_id", replacementID)
	})
	return nil
}

func (s *Service) DenialIDForClaim(ctx context.Context, claimID int64) (*int64, error) {
	row, err := s.repo.GetByClaim(ctx, claimID)
	if err != nil || row == nil {
		return nil, err
	}
	return &row.ID, nil
}

func (s *Service) Get(ctx context.Context, actor internal.Actor, id int64) (*DenialDetail, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, denialResource(id)); err != nil {
		return nil, err
	}
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, "failed to load denial", "denial_id", id)
	}
	if row == nil {
		return nil, internal.ErrDenialNotFound
	}

	appeals, err := s.repo.ListAppeals(ctx, id)
	if err != nil {
		return nil, s.wrap(err, "failed to load appeals", "denial_id", id)
	}
	tasks, err := s.repo.ListTasks(ctx, id)
	if err != nil {
		return nil, s.wrap(err, "failed to load denial tasks", "denial_id", id)
	}

	detail := &DenialDetail{
		Denial:  FromDataModel(row),
		Appeals: make([]*Appeal, len(appeals)),
		Tasks:   make([]*Task, len(tasks)),
	}
	for i, a := range appeals {
		detail.Appeals[i] = AppealFromDataModel(a)
	}
	for i, t := range tasks {
		detail.Tasks[i] = TaskFromDataModel(t)
	}
	return detail, nil
}

// FileAppeal appeals an open denial before its deadline.
func (s *Service) FileAppeal(ctx context.Context, actor internal.Actor, dto FileAppealDTO) (*Appeal, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, denialResource(dto.DenialID)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	now := s.now().UTC()
	var appeal *Appeal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, dto.DenialID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrDenialNotFound
		}
		d := FromDataModel(row)
		if err := d.FileAppeal(now); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, ToDataModel(d)); err != nil {
			return err
		}

		a := &denialDatamodel.Appeal{
			DenialID:      d.ID,
			Reason:        dto.Reason,
			Documentation: dto.Documentation,
			FiledBy:       actor.UserID,
			FiledAt:       now,
		}
		if err := s.repo.CreateAppeal(ctx, a); err != nil {
			return err
		}
		appeal = AppealFromDataModel(a)
		return nil
	})
	if err != nil {
		s.audit.Record(ctx, audit.Entry{
			ActorID:  actor.UserID,
			Action:   ActionAppeal,
			Resource: denialResource(dto.DenialID),
			Result:   audit.ResultFailure,
			Detail:   map[string]any{"error": err.Error()},
		})
		return nil, s.wrap(err, "failed to file appeal", "denial_id", dto.DenialID)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionAppeal,
		Resource: denialResource(dto.DenialID),
		Result:   audit.ResultSuccess,
		Detail:   map[string]any{"appeal_id": appeal.ID},
	})
	s.logger.Info("appeal filed", "denial_id", dto.DenialID, "appeal_id", appeal.ID, "actor_id", actor.UserID)
	return appeal, nil
}

// Resolve closes a denial. A paid outcome settles the parent claim in the
// same transaction; without an amount the denied amount is paid.
func (s *Service) Resolve(ctx context.Context, actor internal.Actor, dto ResolveDTO) (*Denial, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, denialResource(dto.DenialID)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	ctx = internal.ContextWithActor(ctx, actor)
	outcome := Outcome(dto.Outcome)
	var d *Denial
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, dto.DenialID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrDenialNotFound
		}
		d = FromDataModel(row)

		amount := dto.AmountCents
		if outcome == OutcomePaid && amount == nil {
			a := d.AmountCents
			amount = &a
		}
		if err := d.Resolve(outcome, amount, actor.UserID, s.now().UTC()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, ToDataModel(d)); err != nil {
			return err
		}
		if outcome != OutcomePaid {
			return nil
		}
		return s.claims.SettleDenied(ctx, d.ClaimID, *amount)
	})
	if err != nil {
		return nil, s.wrap(err, "failed to resolve denial", "denial_id", dto.DenialID)
	}

	detail := map[string]any{"outcome": dto.Outcome, "claim_id": d.ClaimID}
	if d.ResolvedAmountCents != nil {
		detail["amount_cents"] = *d.ResolvedAmountCents
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionResolve,
		Resource: denialResource(d.ID),
		Result:   audit.ResultSuccess,
		Detail:   detail,
	})
	s.logger.Info("denial resolved", "denial_id", d.ID, "claim_id", d.ClaimID, "outcome", outcome)
	return d, nil
}

// AddTask attaches a work item. The first task on a pending denial moves it
// to in_progress.
func (s *Service) AddTask(ctx context.Context, actor internal.Actor, denialID int64, dto AddTaskDTO) (*Task, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, denialResource(denialID)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	now := s.now().UTC()
	var task *Task
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, denialID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrDenialNotFound
		}
		d := FromDataModel(row)
		if d.Status == StatusResolved {
			return internal.NewInvalidTransitionError("denial", string(d.Status), "task added")
		}
		if d.StartWork(now) {
			if err := s.repo.Update(ctx, ToDataModel(d)); err != nil {
				return err
			}
		}

		task = &Task{
			DenialID:   denialID,
			Title:      dto.Title,
			AssigneeID: dto.AssigneeID,
			CreatedBy:  actor.UserID,
			CreatedAt:  now,
		}
		if !dto.DueDate.IsZero() {
			due := dto.DueDate.Time
			task.DueDate = &due
		}
		t := TaskToDataModel(task)
		if err := s.repo.CreateTask(ctx, t); err != nil {
			return err
		}
		task.ID = t.ID
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to add denial task", "denial_id", denialID)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionAddTask,
		Resource: denialResource(denialID),
		Result:   audit.ResultSuccess,
		Detail:   map[string]any{"task_id": task.ID, "title": task.Title},
	})
	return task, nil
}

func (s *Service) CompleteTask(ctx context.Context, actor internal.Actor, denialID, taskID int64) (*Task, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, denialResource(denialID)); err != nil {
		return nil, err
	}

	var task *Task
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetTask(ctx, denialID, taskID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrTaskNotFound
		}
		task = TaskFromDataModel(row)
		if task.IsCompleted() {
			return nil
		}
		now := s.now().UTC()
		by := actor.UserID
		task.CompletedAt = &now
		task.CompletedBy = &by
		return s.repo.UpdateTask(ctx, TaskToDataModel(task))
	})
	if err != nil {
		return nil, s.wrap(err, "failed to complete denial task", "denial_id", denialID, "task_id", taskID)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionCompleteTask,
		Resource: denialResource(denialID),
		Result:   audit.ResultSuccess,
		Detail:   map[string]any{"task_id": taskID},
	})
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, actor internal.Actor, denialID int64) ([]*Task, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, denialResource(denialID)); err != nil {
		return nil, err
	}
	row, err := s.repo.GetByID(ctx, denialID)
	if err != nil {
		return nil, s.wrap(err, "failed to load denial", "denial_id", denialID)
	}
	if row == nil {
		return nil, internal.ErrDenialNotFound
	}

	rows, err := s.repo.ListTasks(ctx, denialID)
	if err != nil {
		return nil, s.wrap(err, "failed to list denial tasks", "denial_id", denialID)
	}
	out := make([]*Task, len(rows))
	for i, r := range rows {
		out[i] = TaskFromDataModel(r)
	}
	return out, nil
}

// SweepOverdue flags open denials whose appeal deadline has passed. Each
// denial is flagged in its own transaction; failures are collected and the
// sweep moves on.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	ids, err := s.repo.ListPastDeadline(ctx, now)
	if err != nil {
		return 0, s.wrap(err, "failed to list overdue denials")
	}

	flagged := 0
	var errs []error
	for _, id := range ids {
		var d *Denial
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			d = nil
			row, err := s.repo.GetForUpdate(ctx, id)
			if err != nil || row == nil {
				return err
			}
			candidate := FromDataModel(row)
			if !candidate.MarkOverdue(now) {
				return nil
			}
			if err := s.repo.Update(ctx, ToDataModel(candidate)); err != nil {
				return err
			}
			d = candidate
			return nil
		})
		if err != nil {
			s.logger.Error("failed to flag overdue denial", "denial_id", id, "error", err)
			errs = append(errs, fmt.Errorf("denial %d: %w", id, err))
			continue
		}
		if d == nil {
			continue
		}

		flagged++
		metrics.DenialsOverdue.Inc()
		s.audit.Record(ctx, audit.Entry{
			ActorID:  internal.SystemActor.UserID,
			Action:   ActionOverdue,
			Resource: denialResource(id),
			Result:   audit.ResultSuccess,
			Detail:   map[string]any{"appeal_deadline": d.AppealDeadline.Format(time.RFC3339)},
		})
		s.publish(ctx, events.NewDenialOverdueEvent(d.ID, d.ClaimID, d.AppealDeadline))
	}

	if flagged > 0 {
		s.logger.Info("overdue denials flagged", "count", flagged)
	}
	return flagged, errors.Join(errs...)
}

func (s *Service) ListOverdue(ctx context.Context, actor internal.Actor) (*OverdueList, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, "denials:overdue"); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListOverdue(ctx, s.now().UTC())
	if err != nil {
		return nil, s.wrap(err, "failed to list overdue denials")
	}
	list := FromDataModels(rows)
	return &OverdueList{Denials: list, Total: len(list)}, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish denial event", "type", event.EventType(), "error", err)
	}
}

func (s *Service) wrap(err error, msg string, args ...any) error {
	if _, ok := internal.IsAppError(err); ok {
		return err
	}
	s.logger.Error(msg, append(args, "error", err)...)
	return internal.NewInternalError(msg, err)
}

func actorID(ctx context.Context) int64 {
	if actor, ok := internal.ActorFromContext(ctx); ok {
		return actor.UserID
	}
	return internal.SystemActor.UserID
}
