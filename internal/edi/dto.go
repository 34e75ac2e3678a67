package edi

import (
	"fmt"

	"github.com/dydact/scrive-aci-sub002/internal"
)

type GenerateBatchDTO struct {
	ClaimIDs []int64 `json:"claim_ids"`
}

// Validate rejects an empty list and reports every repeated or non-positive
// claim id.
func (dto GenerateBatchDTO) Validate() *internal.AppError {
	if len(dto.ClaimIDs) == 0 {
		return internal.NewValidationFieldError("claim_ids", "claim_ids is required", internal.ErrCodeValidationFailed)
	}

	var offenders []internal.ValidationError
	seen := make(map[int64]bool, len(dto.ClaimIDs))
	reported := make(map[int64]bool)
	for _, id := range dto.ClaimIDs {
		switch {
		case id <= 0:
			offenders = append(offenders, claimOffender(id, "invalid claim id"))
		case seen[id] && !reported[id]:
			reported[id] = true
			offenders = append(offenders, claimOffender(id, fmt.Sprintf("claim %d is listed more than once", id)))
		}
		seen[id] = true
	}
	return offenderError(offenders)
}

func claimOffender(id int64, msg string) internal.ValidationError {
	return internal.ValidationError{
		Field:   fmt.Sprintf("claim_ids[%d]", id),
		Message: msg,
		Code:    string(internal.ErrCodeValidationFailed),
	}
}

func offenderError(offenders []internal.ValidationError) *internal.AppError {
	if len(offenders) == 0 {
		return nil
	}
	return internal.NewValidationError("claims cannot be batched", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: offenders})
}

type OrganizationInfo struct {
	Name       string `json:"name"`
	NPI        string `json:"npi"`
	TaxID      string `json:"tax_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}
