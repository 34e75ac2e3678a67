package denial

import (
	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/core/common/validation"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type FileAppealDTO struct {
	DenialID      int64  `json:"denial_id"`
	Reason        string `json:"reason"`
	Documentation string `json:"documentation,omitempty"`
}

func (dto FileAppealDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("denial_id", dto.DenialID).Required()
	v.Field("reason", dto.Reason).Required().MaxLength(1000)
	v.Field("documentation", dto.Documentation).MaxLength(10000)
	return v.Validate()
}

type ResolveDTO struct {
	DenialID    int64  `json:"denial_id"`
	Outcome     string `json:"outcome"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
}

func (dto ResolveDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("denial_id", dto.DenialID).Required()
	v.Field("outcome", dto.Outcome).Required().OneOf(string(OutcomePaid), string(OutcomeWrittenOff), string(OutcomeUpheld))
	if dto.AmountCents != nil {
		v.Field("amount_cents", *dto.AmountCents).NonNegative(internal.ErrCodeInvalidAmount)
	}
	return v.Validate()
}

type AddTaskDTO struct {
	Title      string         `json:"title"`
	AssigneeID *int64         `json:"assignee_id,omitempty"`
	DueDate    transport.Date `json:"due_date,omitempty"`
}

func (dto AddTaskDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("title", dto.Title).Required().MaxLength(200)
	return v.Validate()
}

type DenialDetail struct {
	*Denial
	Appeals []*Appeal `json:"appeals"`
	Tasks   []*Task   `json:"tasks"`
}

type OverdueList struct {
	Denials []*Denial `json:"denials"`
	Total   int       `json:"total"`
}
