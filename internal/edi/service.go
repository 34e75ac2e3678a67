package edi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/claim"
	ediDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/edi"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/core/ids"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
)

const (
	ActionGenerate = "edi.generate"
	ActionDownload = "edi.download"
)

type Repository interface {
	Create(ctx context.Context, b *ediDatamodel.Batch) error
	GetByID(ctx context.Context, id int64) (*ediDatamodel.Batch, error)
	// LastControlNumber returns 0 when no batch exists.
	LastControlNumber(ctx context.Context) (int64, error)
	ClaimIDs(ctx context.Context, batchID int64) ([]int64, error)
}

// ClaimSubmitter is the part of the claim state machine a batch drives.
type ClaimSubmitter interface {
	LockForBatch(ctx context.Context, ids []int64) ([]*claim.Claim, error)
	MarkSubmitted(ctx context.Context, claimID, batchID int64) (*claim.Claim, error)
}

type UsageSource interface {
	ListByClaim(ctx context.Context, claimID int64) ([]*usage.UsageEvent, error)
}

type ServiceCatalog interface {
	Codes(ctx context.Context) (map[int64]string, error)
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
	claims    ClaimSubmitter
	usage     UsageSource
	catalog   ServiceCatalog
	gate      PermissionGate
	audit     audit.Recorder
	publisher EventPublisher
	cfg       internal.BillingConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	tx store.Runner,
	claims ClaimSubmitter,
	usageSource UsageSource,
	catalog ServiceCatalog,
	gate PermissionGate,
	recorder audit.Recorder,
	publisher EventPublisher,
	cfg internal.BillingConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		claims:    claims,
		usage:     usageSource,
		catalog:   catalog,
		gate:      gate,
		audit:     recorder,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// requireBilling checks both capabilities a batch needs: the file carries
// the organisation's identifiers.
func (s *Service) requireBilling(ctx context.Context, actor internal.Actor, resource string) error {
	if err := s.gate.Require(ctx, actor, auth.ViewBilling, resource); err != nil {
		return err
	}
	return s.gate.Require(ctx, actor, auth.ViewOrgBillingIDs, resource)
}

// GenerateBatch writes one interchange for the given generated claims,
// stores it and submits every claim, all in one transaction.
func (s *Service) GenerateBatch(ctx context.Context, actor internal.Actor, dto GenerateBatchDTO) (*Batch, error) {
	if err := s.requireBilling(ctx, actor, "edi_batch"); err != nil {
		return nil, err
	}
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	ctx = internal.ContextWithActor(ctx, actor)
	now := s.now().UTC()
	var (
		batch     *Batch
		submitted []*claim.Claim
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		batch, submitted = nil, nil

		claims, err := s.claims.LockForBatch(ctx, dto.ClaimIDs)
		if err != nil {
			return err
		}
		if appErr := checkBatchable(claims); appErr != nil {
			return appErr
		}

		codes, err := s.catalog.Codes(ctx)
		if err != nil {
			return err
		}
		records := make([]ClaimRecord, 0, len(claims))
		var total int64
		for _, c := range claims {
			evts, err := s.usage.ListByClaim(ctx, c.ID)
			if err != nil {
				return err
			}
			records = append(records, toRecord(c, evts, codes))
			total += c.TotalCents
		}

		last, err := s.repo.LastControlNumber(ctx)
		if err != nil {
			return err
		}
		reference := ids.NewAt(now)
		batch = &Batch{
			Reference:     reference,
			ControlNumber: last + 1,
			FileName:      FileName(reference),
			ClaimCount:    len(claims),
			TotalCents:    total,
			ClaimIDs:      dto.ClaimIDs,
			CreatedBy:     actor.UserID,
			CreatedAt:     now,
		}
		batch.Content = Build(Envelope{
			SenderID:         s.cfg.SenderID,
			ReceiverID:       s.cfg.ReceiverID,
			OrganizationName: s.cfg.OrganizationName,
			NPI:              s.cfg.NPI,
			TaxID:            s.cfg.TaxID,
			UsageIndicator:   s.cfg.UsageIndicator,
			ControlNumber:    batch.ControlNumber,
			Reference:        reference,
			CreatedAt:        now,
		}, records)

		row := ToDataModel(batch)
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		batch.ID = row.ID

		for _, c := range claims {
			updated, err := s.claims.MarkSubmitted(ctx, c.ID, batch.ID)
			if err != nil {
				return err
			}
			submitted = append(submitted, updated)
		}
		return nil
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			s.audit.Record(ctx, audit.Entry{
				ActorID:  actor.UserID,
				Action:   ActionGenerate,
				Resource: "edi_batch",
				Result:   audit.ResultFailure,
				Detail:   map[string]any{"claim_ids": dto.ClaimIDs, "error": err.Error()},
			})
			return nil, err
		}
		s.logger.Error("failed to generate EDI batch", "claim_ids", dto.ClaimIDs, "error", err)
		return nil, internal.NewInternalError("failed to generate EDI batch", err)
	}

	metrics.EDIBatches.Inc()
	for _, c := range submitted {
		metrics.ClaimTransitions.WithLabelValues(string(claim.StatusGenerated), string(claim.StatusSubmitted)).Inc()
		if s.publisher != nil {
			event := events.NewClaimTransitionedEvent(c.ID, c.ClaimNumber, string(claim.StatusGenerated), string(claim.StatusSubmitted))
			if err := s.publisher.Publish(ctx, event); err != nil {
				s.logger.Warn("failed to publish claim transition", "claim_id", c.ID, "error", err)
			}
		}
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionGenerate,
		Resource: fmt.Sprintf("edi_batch:%d", batch.ID),
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"reference":      batch.Reference,
			"control_number": batch.ControlNumber,
			"claim_ids":      dto.ClaimIDs,
			"total_cents":    batch.TotalCents,
		},
	})
	s.logger.Info("EDI batch generated",
		"batch_id", batch.ID,
		"reference", batch.Reference,
		"claims", batch.ClaimCount,
		"total_cents", batch.TotalCents)
	return batch, nil
}

// checkBatchable lists every claim that is not generated or lacks the
// client's billing id.
func checkBatchable(claims []*claim.Claim) *internal.AppError {
	var offenders []internal.ValidationError
	for _, c := range claims {
		if c.Status != claim.StatusGenerated {
			offenders = append(offenders, claimOffender(c.ID,
				fmt.Sprintf("claim %s is %s, only generated claims can be batched", c.ClaimNumber, c.Status)))
			continue
		}
		if c.ClientBillingID == "" {
			offenders = append(offenders, claimOffender(c.ID,
				fmt.Sprintf("claim %s has no client billing id", c.ClaimNumber)))
		}
	}
	return offenderError(offenders)
}

func toRecord(c *claim.Claim, evts []*usage.UsageEvent, codes map[int64]string) ClaimRecord {
	rec := ClaimRecord{
		ClaimNumber:      c.ClaimNumber,
		PatientName:      c.ClientName,
		PatientBillingID: c.ClientBillingID,
		TotalCents:       c.TotalCents,
		Lines:            make([]ServiceLine, len(evts)),
	}
	for i, e := range evts {
		rec.Lines[i] = ServiceLine{
			ProcedureCode: codes[e.ServiceTypeID],
			ChargeCents:   e.AmountCents,
			Units:         e.Units,
			ServiceDate:   e.ServiceDate,
		}
	}
	return rec
}

func (s *Service) GetBatch(ctx context.Context, actor internal.Actor, id int64) (*Batch, error) {
	if err := s.requireBilling(ctx, actor, fmt.Sprintf("edi_batch:%d", id)); err != nil {
		return nil, err
	}
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load EDI batch", "batch_id", id, "error", err)
		return nil, internal.NewInternalError("failed to load EDI batch", err)
	}
	if row == nil {
		return nil, internal.ErrBatchNotFound
	}

	b := FromDataModel(row)
	b.ClaimIDs, err = s.repo.ClaimIDs(ctx, id)
	if err != nil {
		s.logger.Error("failed to load EDI batch claims", "batch_id", id, "error", err)
		return nil, internal.NewInternalError("failed to load EDI batch", err)
	}
	return b, nil
}

// File returns the stored interchange for download.
func (s *Service) File(ctx context.Context, actor internal.Actor, id int64) (*Batch, error) {
	b, err := s.GetBatch(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionDownload,
		Resource: fmt.Sprintf("edi_batch:%d", id),
		Result:   audit.ResultSuccess,
		Detail:   map[string]any{"file_name": b.FileName},
	})
	return b, nil
}

func (s *Service) Organization(ctx context.Context, actor internal.Actor) (*OrganizationInfo, error) {
	if err := s.gate.Require(ctx, actor, auth.ViewOrgBillingIDs, "organization"); err != nil {
		return nil, err
	}
	return &OrganizationInfo{
		Name:       s.cfg.OrganizationName,
		NPI:        s.cfg.NPI,
		TaxID:      s.cfg.TaxID,
		SenderID:   s.cfg.SenderID,
		ReceiverID: s.cfg.ReceiverID,
	}, nil
}
