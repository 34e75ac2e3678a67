package denial

import (
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	denialDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/denial"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusAppealed   Status = "appealed"
	StatusResolved   Status = "resolved"
)

type Outcome string

const (
	OutcomePaid        Outcome = "paid"
	OutcomeWrittenOff  Outcome = "written_off"
	OutcomeUpheld      Outcome = "upheld"
	// OutcomeResubmitted is set when the claim is billed again; it is not
	// accepted by Resolve.
	OutcomeResubmitted Outcome = "resubmitted"
)

const DefaultAppealWindowDays = 90

type Denial struct {
	ID                  int64      `json:"id"`
	ClaimID             int64      `json:"claim_id"`
	Code                string     `json:"code"`
	Reason              string     `json:"reason"`
	AmountCents         int64      `json:"amount_cents"`
	DeniedAt            time.Time  `json:"denied_at"`
	AppealDeadline      time.Time  `json:"appeal_deadline"`
	Status              Status     `json:"status"`
	Outcome             *Outcome   `json:"outcome,omitempty"`
	ResolvedAmountCents *int64     `json:"resolved_amount_cents,omitempty"`
	Overdue             bool       `json:"overdue"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy          *int64     `json:"resolved_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type Appeal struct {
	ID            int64     `json:"id"`
	DenialID      int64     `json:"denial_id"`
	Reason        string    `json:"reason"`
	Documentation string    `json:"documentation,omitempty"`
	FiledBy       int64     `json:"filed_by"`
	FiledAt       time.Time `json:"filed_at"`
}

type Task struct {
	ID          int64      `json:"id"`
	DenialID    int64      `json:"denial_id"`
	Title       string     `json:"title"`
	AssigneeID  *int64     `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy *int64     `json:"completed_by,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t *Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

// NewDenial opens a pending denial whose appeal deadline is windowDays after
// the denial date.
func NewDenial(claimID int64, code, reason string, amountCents int64, deniedAt time.Time, windowDays int) *Denial {
	if windowDays <= 0 {
		windowDays = DefaultAppealWindowDays
	}
	return &Denial{
		ClaimID:        claimID,
		Code:           code,
		Reason:         reason,
		AmountCents:    amountCents,
		DeniedAt:       deniedAt.UTC(),
		AppealDeadline: deniedAt.UTC().AddDate(0, 0, windowDays),
		Status:         StatusPending,
	}
}

func (d *Denial) IsOpen() bool {
	return d.Status == StatusPending || d.Status == StatusInProgress
}

func (d *Denial) PastDeadline(now time.Time) bool {
	return now.After(d.AppealDeadline)
}

// FileAppeal checks the status before the deadline so a resolved denial
// reports InvalidTransition even after its window closed.
func (d *Denial) FileAppeal(now time.Time) error {
	if !d.IsOpen() {
		return internal.NewInvalidTransitionError("denial", string(d.Status), string(StatusAppealed))
	}
	if d.PastDeadline(now) {
		return internal.ErrDeadlineExpired
	}
	d.Status = StatusAppealed
	d.UpdatedAt = now
	return nil
}

// StartWork moves a pending denial to in_progress; other states are left
// alone.
func (d *Denial) StartWork(now time.Time) bool {
	if d.Status != StatusPending {
		return false
	}
	d.Status = StatusInProgress
	d.UpdatedAt = now
	return true
}

func (d *Denial) Resolve(outcome Outcome, amountCents *int64, by int64, now time.Time) error {
	if d.Status == StatusResolved {
		return internal.NewInvalidTransitionError("denial", string(d.Status), string(StatusResolved))
	}
	t := now
	d.Status = StatusResolved
	d.Outcome = &outcome
	d.ResolvedAmountCents = amountCents
	d.ResolvedAt = &t
	d.ResolvedBy = &by
	d.UpdatedAt = now
	return nil
}

// MarkOverdue flags an open denial whose deadline has passed. It reports
// whether the flag changed.
func (d *Denial) MarkOverdue(now time.Time) bool {
	if d.Overdue || !d.IsOpen() || !d.PastDeadline(now) {
		return false
	}
	d.Overdue = true
	d.UpdatedAt = now
	return true
}

func ToDataModel(d *Denial) *denialDatamodel.Denial {
	row := &denialDatamodel.Denial{
		ID:                  d.ID,
		ClaimID:             d.ClaimID,
		Code:                d.Code,
		Reason:              d.Reason,
		AmountCents:         d.AmountCents,
		DeniedAt:            d.DeniedAt,
		AppealDeadline:      d.AppealDeadline,
		Status:              string(d.Status),
		ResolvedAmountCents: d.ResolvedAmountCents,
		Overdue:             d.Overdue,
		ResolvedAt:          d.ResolvedAt,
		ResolvedBy:          d.ResolvedBy,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.Outcome != nil {
		o := string(*d.Outcome)
		row.Outcome = &o
	}
	return row
}

func FromDataModel(row *denialDatamodel.Denial) *Denial {
	d := &Denial{
		ID:                  row.ID,
		ClaimID:             row.ClaimID,
		Code:                row.Code,
		Reason:              row.Reason,
		AmountCents:         row.AmountCents,
		DeniedAt:            row.DeniedAt.UTC(),
		AppealDeadline:      row.AppealDeadline.UTC(),
		Status:              Status(row.Status),
		ResolvedAmountCents: row.ResolvedAmountCents,
		Overdue:             row.Overdue,
		ResolvedAt:          row.ResolvedAt,
		ResolvedBy:          row.ResolvedBy,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if row.Outcome != nil {
		o := Outcome(*row.Outcome)
		d.Outcome = &o
	}
	return d
}

func FromDataModels(rows []*denialDatamodel.Denial) []*Denial {
	out := make([]*Denial, len(rows))
	for i, r := range rows {
		out[i] = FromDataModel(r)
	}
	return out
}

func AppealFromDataModel(row *denialDatamodel.Appeal) *Appeal {
	return &Appeal{
		ID:            row.ID,
		DenialID:      row.DenialID,
		Reason:        row.Reason,
		Documentation: row.Documentation,
		FiledBy:       row.FiledBy,
		FiledAt:       row.FiledAt,
	}
}

func TaskToDataModel(t *Task) *denialDatamodel.Task {
	return &denialDatamodel.Task{
		ID:          t.ID,
		DenialID:    t.DenialID,
		Title:       t.Title,
		AssigneeID:  t.AssigneeID,
		DueDate:     t.DueDate,
		CompletedAt: t.CompletedAt,
		CompletedBy: t.CompletedBy,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

func TaskFromDataModel(row *denialDatamodel.Task) *Task {
	return &Task{
		ID:          row.ID,
		DenialID:    row.DenialID,
		Title:       row.Title,
		AssigneeID:  row.AssigneeID,
		DueDate:     row.DueDate,
		CompletedAt: row.CompletedAt,
		CompletedBy: row.CompletedBy,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt,
	}
}
