package claim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	claimDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/claim"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
)

const (
	ActionGenerate  = "claim.generate"
	ActionSubmit    = "claim.submit"
	ActionOutcome   = "claim.outcome"
	ActionPayment   = "claim.payment"
	ActionSettle    = "claim.settle"
	ActionResubmit  = "claim.resubmit"
	ActionViewClaim = "claim.view"
)

type ClientInfo struct {
	Name       string
	MedicaidID string
}

type Repository interface {
	Create(ctx context.Context, c *claimDatamodel.Claim) error
	GetByID(ctx context.Context, id int64) (*claimDatamodel.Claim, error)
	GetForUpdate(ctx context.Context, id int64) (*claimDatamodel.Claim, error)
	Update(ctx context.Context, c *claimDatamodel.Claim) error
	// LastNumber returns the highest claim number starting with prefix, or "".
	LastNumber(ctx context.Context, prefix string) (string, error)
	FindReplacement(ctx context.Context, claimID int64) (*claimDatamodel.Claim, error)
	ClientInfo(ctx context.Context, clientID int64) (*ClientInfo, error)
}

type UsageSource interface {
	Unbilled(ctx context.Context, clientID int64, from, to time.Time, lock bool) ([]*usage.UsageEvent, error)
	ListByClaim(ctx context.Context, claimID int64) ([]*usage.UsageEvent, error)
	MarkBilled(ctx context.Context, ids []int64, claimID int64) error
	Rebill(ctx context.Context, fromClaimID, toClaimID int64) (int, error)
}

type PermissionGate interface {
	CanOn(ctx context.Context, userID int64, capability auth.Capability, resource string) bool
	Require(ctx context.Context, actor internal.Actor, capability auth.Capability, resource string) error
}

// DenialOpener opens the denial record of a claim inside the caller's
// transaction and returns its id. CloseForResubmission resolves an open
// denial once its claim has been billed again.
type DenialOpener interface {
	OpenDenial(ctx context.Context, notice DenialNotice) (int64, error)
	DenialIDForClaim(ctx context.Context, claimID int64) (*int64, error)
	CloseForResubmission(ctx context.Context, claimID, replacementID int64) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Service struct {
	repo      Repository
	tx        store.Runner
	usage     UsageSource
	gate      PermissionGate
	denials   DenialOpener
	audit     audit.Recorder
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	tx store.Runner,
	usageSource UsageSource,
	gate PermissionGate,
	recorder audit.Recorder,
	publisher EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		usage:     usageSource,
		gate:      gate,
		audit:     recorder,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetDenialOpener breaks the construction cycle with the denial tracker,
// which itself settles claims.
func (s *Service) SetDenialOpener(opener DenialOpener) {
	s.denials = opener
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func claimResource(id int64) string {
	return fmt.Sprintf("claim:%d", id)
}

// Generate bills every unbilled usage event of the client inside the period.
// The claim is created as draft, totalled and moved to generated, and the
// events are marked billed, all in one transaction.
func (s *Service) Generate(ctx context.Context, actor internal.Actor, dto GenerateClaimDTO) (*Claim, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, fmt.Sprintf("client:%d", dto.ClientID)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	now := s.now().UTC()
	periodStart, periodEnd := dateOf(dto.PeriodStart.Time), dateOf(dto.PeriodEnd.Time)
	billingDate := dateOf(now)
	if !dto.BillingDate.IsZero() {
		billingDate = dateOf(dto.BillingDate.Time)
	}

	var c *Claim
	var eventCount int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		evts, err := s.usage.Unbilled(ctx, dto.ClientID, periodStart, periodEnd, true)
		if err != nil {
			return err
		}
		if len(evts) == 0 {
			return internal.ErrEmptyClaim
		}
		ids := make([]int64, len(evts))
		for i, e := range evts {
			if e.ClientID != dto.ClientID {
				return fmt.Errorf("usage event %d belongs to client %d", e.ID, e.ClientID)
			}
			ids[i] = e.ID
		}

		info, err := s.repo.ClientInfo(ctx, dto.ClientID)
		if err != nil {
			return err
		}
		number, err := s.nextNumber(ctx, billingDate)
		if err != nil {
			return err
		}

		c = &Claim{
			ClaimNumber:     number,
			ClientID:        dto.ClientID,
			ClientName:      info.Name,
			ClientBillingID: info.MedicaidID,
			PeriodStart:     periodStart,
			PeriodEnd:       periodEnd,
			BillingDate:     billingDate,
			Status:          StatusDraft,
			CreatedBy:       actor.UserID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		row := ToDataModel(c)
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		c.ID = row.ID

		c.TotalCents = usage.Total(evts)
		if err := c.TransitionTo(StatusGenerated, now); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, ToDataModel(c)); err != nil {
			return err
		}
		eventCount = len(ids)
		return s.usage.MarkBilled(ctx, ids, c.ID)
	})
	if err != nil {
		return nil, s.wrap(err, "failed to generate claim", "client_id", dto.ClientID)
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionGenerate,
		Resource: claimResource(c.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"claim_number": c.ClaimNumber,
			"total_cents":  c.TotalCents,
			"events":       eventCount,
			"period":       c.PeriodStart.Format("2006-01-02") + "/" + c.PeriodEnd.Format("2006-01-02"),
		},
	})
	s.transitioned(ctx, c, StatusDraft)
	s.logger.Info("claim generated",
		"claim_id", c.ID,
		"claim_number", c.ClaimNumber,
		"client_id", c.ClientID,
		"total_cents", c.TotalCents,
		"events", eventCount)
	return c, nil
}

func (s *Service) nextNumber(ctx context.Context, billingDate time.Time) (string, error) {
	last, err := s.repo.LastNumber(ctx, ClaimNumberPrefix(billingDate))
	if err != nil {
		return "", err
	}
	seq := 1
	if last != "" {
		n, err := ParseSequence(last)
		if err != nil {
			return "", err
		}
		seq = n + 1
	}
	return FormatClaimNumber(billingDate, seq), nil
}

// LockForBatch loads and locks claims for an EDI batch inside the caller's
// transaction. Missing ids are reported as not found.
func (s *Service) LockForBatch(ctx context.Context, ids []int64) ([]*Claim, error) {
	out := make([]*Claim, 0, len(ids))
	for _, id := range ids {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, internal.NewNotFoundError(fmt.Sprintf("claim %d not found", id), internal.ErrCodeClaimNotFound)
		}
		out = append(out, FromDataModel(row))
	}
	return out, nil
}

// MarkSubmitted flips a generated claim to submitted as part of an EDI
// batch. It runs inside the exporter's transaction.
func (s *Service) MarkSubmitted(ctx context.Context, claimID, batchID int64) (*Claim, error) {
	var c *Claim
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, claimID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrClaimNotFound
		}
		c = FromDataModel(row)
		if err := c.TransitionTo(StatusSubmitted, s.now().UTC()); err != nil {
			return err
		}
		c.BatchID = &batchID
		return s.repo.Update(ctx, ToDataModel(c))
	})
	if err != nil {
		return nil, s.wrap(err, "failed to submit claim", "claim_id", claimID)
	}

	entry := audit.Entry{
		ActorID:  actorID(ctx),
		Action:   ActionSubmit,
		Resource: claimResource(claimID),
		Result:   audit.ResultSuccess,
		Detail:   map[string]any{"batch_id": batchID},
	}
	store.AfterCommit(ctx, func() { s.audit.Record(ctx, entry) })
	return c, nil
}

// RecordOutcome stores the payer's decision. A denial opens the denial
// record in the same transaction.
func (s *Service) RecordOutcome(ctx context.Context, actor internal.Actor, id int64, dto OutcomeDTO) (*Claim, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, claimResource(id)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	ctx = internal.ContextWithActor(ctx, actor)
	to := Status(dto.Status)
	now := s.now().UTC()
	var (
		c        *Claim
		denialID int64
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrClaimNotFound
		}
		c = FromDataModel(row)
		if err := c.TransitionTo(to, now); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, ToDataModel(c)); err != nil {
			return err
		}
		if to != StatusDenied {
			return nil
		}

		deniedAt := now
		if !dto.DeniedAt.IsZero() {
			deniedAt = dto.DeniedAt.Time
		}
		amount := dto.DenialAmountCents
		if amount == 0 {
			amount = c.TotalCents
		}
		denialID, err = s.denials.OpenDenial(ctx, DenialNotice{
			ClaimID:     c.ID,
			Code:        dto.DenialCode,
			Reason:      dto.DenialReason,
			AmountCents: amount,
			DeniedAt:    deniedAt,
		})
		return err
	})
	if err != nil {
		return nil, s.wrap(err, "failed to record claim outcome", "claim_id", id, "status", dto.Status)
	}

	detail := map[string]any{"status": dto.Status}
	if to == StatusDenied {
		detail["denial_id"] = denialID
		detail["denial_code"] = dto.DenialCode
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionOutcome,
		Resource: claimResource(id),
		Result:   audit.ResultSuccess,
		Detail:   detail,
	})
	s.transitioned(ctx, c, StatusSubmitted)
	s.logger.Info("claim outcome recorded",
		"claim_id", id,
		"status", to,
		"denial_id", denialID,
		"actor_id", actor.UserID)
	return c, nil
}

// RecordPayment moves an accepted claim to paid. A short payment is logged
// and audited with its variance; it is not an error.
func (s *Service) RecordPayment(ctx context.Context, actor internal.Actor, id int64, dto PaymentDTO) (*Claim, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, claimResource(id)); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	var c *Claim
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrClaimNotFound
		}
		c = FromDataModel(row)
		if err := c.Pay(dto.AmountCents, s.now().UTC()); err != nil {
			return err
		}
		return s.repo.Update(ctx, ToDataModel(c))
	})
	if err != nil {
		return nil, s.wrap(err, "failed to record payment", "claim_id", id)
	}

	variance := c.Variance()
	if variance != 0 {
		s.logger.Warn("claim paid with variance",
			"claim_id", id,
			"total_cents", c.TotalCents,
			"payment_cents", dto.AmountCents,
			"variance_cents", variance)
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionPayment,
		Resource: claimResource(id),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"payment_cents":  dto.AmountCents,
			"variance_cents": variance,
		},
	})
	s.transitioned(ctx, c, StatusAccepted)
	return c, nil
}

// SettleDenied pays a denied claim. The denial tracker calls it inside its
// resolve transaction. A claim that was resubmitted cannot be settled; its
// usage is billed on the replacement.
func (s *Service) SettleDenied(ctx context.Context, id int64, amountCents int64) error {
	var c *Claim
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrClaimNotFound
		}
		c = FromDataModel(row)
		replacement, err := s.repo.FindReplacement(ctx, c.ID)
		if err != nil {
			return err
		}
		if replacement != nil {
			return internal.NewBusinessRuleError(
				fmt.Sprintf("claim %s was resubmitted as %s and cannot be paid", c.ClaimNumber, replacement.ClaimNumber),
				internal.ErrCodeInvalidTransition)
		}
		if err := c.Settle(amountCents, s.now().UTC()); err != nil {
			return err
		}
		return s.repo.Update(ctx, ToDataModel(c))
	})
	if err != nil {
		return s.wrap(err, "failed to settle claim", "claim_id", id)
	}

	entry := audit.Entry{
		ActorID:  actorID(ctx),
		Action:   ActionSettle,
		Resource: claimResource(id),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"payment_cents":  amountCents,
			"variance_cents": c.Variance(),
		},
	}
	store.AfterCommit(ctx, func() {
		s.audit.Record(ctx, entry)
		metrics.ClaimTransitions.WithLabelValues(string(StatusDenied), string(StatusPaid)).Inc()
	})
	return nil
}

// Resubmit bills a denied claim's usage again under a new generated claim
// and closes the open denial. The denied claim keeps its number and total.
func (s *Service) Resubmit(ctx context.Context, actor internal.Actor, deniedClaimID int64) (*Claim, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, claimResource(deniedClaimID)); err != nil {
		return nil, err
	}

	ctx = internal.ContextWithActor(ctx, actor)
	now := s.now().UTC()
	var c *Claim
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.repo.GetForUpdate(ctx, deniedClaimID)
		if err != nil {
			return err
		}
		if row == nil {
			return internal.ErrClaimNotFound
		}
		prev := FromDataModel(row)
		if prev.Status != StatusDenied {
			return internal.NewInvalidTransitionError("claim", string(prev.Status), "resubmitted")
		}
		existing, err := s.repo.FindReplacement(ctx, prev.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return internal.NewBusinessRuleError(
				fmt.Sprintf("claim %s was already resubmitted as %s", prev.ClaimNumber, existing.ClaimNumber),
				internal.ErrCodeInvalidTransition)
		}

		evts, err := s.usage.ListByClaim(ctx, prev.ID)
		if err != nil {
			return err
		}
		if len(evts) == 0 {
			return internal.ErrEmptyClaim
		}

		billingDate := dateOf(now)
		number, err := s.nextNumber(ctx, billingDate)
		if err != nil {
			return err
		}
		prevID := prev.ID
		c = &Claim{
			ClaimNumber:     number,
			ClientID:        prev.ClientID,
			ClientName:      prev.ClientName,
			ClientBillingID: prev.ClientBillingID,
			PeriodStart:     prev.PeriodStart,
			PeriodEnd:       prev.PeriodEnd,
			BillingDate:     billingDate,
			TotalCents:      usage.Total(evts),
			Status:          StatusGenerated,
			ReplacesClaimID: &prevID,
			GeneratedAt:     &now,
			CreatedBy:       actor.UserID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		row = ToDataModel(c)
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		c.ID = row.ID

		if _, err := s.usage.Rebill(ctx, prev.ID, c.ID); err != nil {
			return err
		}
		if s.denials == nil {
			return nil
		}
		return s.denials.CloseForResubmission(ctx, prev.ID, c.ID)
	})
	if err != nil {
		return nil, s.wrap(err, "failed to resubmit claim", "claim_id", deniedClaimID)
	}

	entry := audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionResubmit,
		Resource: claimResource(deniedClaimID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"new_claim_id":     c.ID,
			"new_claim_number": c.ClaimNumber,
			"total_cents":      c.TotalCents,
		},
	}
	store.AfterCommit(ctx, func() { s.audit.Record(ctx, entry) })
	s.transitioned(ctx, c, StatusDraft)
	s.logger.Info("claim resubmitted",
		"denied_claim_id", deniedClaimID,
		"claim_id", c.ID,
		"claim_number", c.ClaimNumber)
	return c, nil
}

// Get returns a claim with its usage. The client's Medicaid ID is masked
// unless the actor may view client billing identifiers.
func (s *Service) Get(ctx context.Context, actor internal.Actor, id int64) (*ClaimView, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, claimResource(id)); err != nil {
		return nil, err
	}

	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, "failed to load claim", "claim_id", id)
	}
	if row == nil {
		return nil, internal.ErrClaimNotFound
	}
	c := FromDataModel(row)

	evts, err := s.usage.ListByClaim(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &ClaimView{Claim: c, VarianceCents: c.Variance(), Events: evts}
	if s.denials != nil && (c.Status == StatusDenied || c.Status == StatusPaid) {
		denialID, err := s.denials.DenialIDForClaim(ctx, id)
		if err != nil {
			return nil, s.wrap(err, "failed to load denial", "claim_id", id)
		}
		view.DenialID = denialID
	}

	if !s.gate.CanOn(ctx, actor.UserID, auth.ViewClientBillingIDs, claimResource(id)) {
		c.ClientBillingID = c.RedactedBillingID()
	}
	return view, nil
}

func (s *Service) transitioned(ctx context.Context, c *Claim, from Status) {
	metrics.ClaimTransitions.WithLabelValues(string(from), string(c.Status)).Inc()
	if s.publisher == nil {
		return
	}
	event := events.NewClaimTransitionedEvent(c.ID, c.ClaimNumber, string(from), string(c.Status))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish claim transition", "claim_id", c.ID, "error", err)
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

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
