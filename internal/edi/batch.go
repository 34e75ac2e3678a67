package edi

import (
	"time"

	ediDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/edi"
)

type Batch struct {
	ID            int64     `json:"id"`
	Reference     string    `json:"reference"`
	ControlNumber int64     `json:"control_number"`
	FileName      string    `json:"file_name"`
	Content       string    `json:"-"`
	ClaimCount    int       `json:"claim_count"`
	TotalCents    int64     `json:"total_cents"`
	ClaimIDs      []int64   `json:"claim_ids,omitempty"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func ToDataModel(b *Batch) *ediDatamodel.Batch {
	return &ediDatamodel.Batch{
		ID:            b.ID,
		Reference:     b.Reference,
		ControlNumber: b.ControlNumber,
		FileName:      b.FileName,
		Content:       b.Content,
		ClaimCount:    b.ClaimCount,
		TotalCents:    b.TotalCents,
		CreatedBy:     b.CreatedBy,
		CreatedAt:     b.CreatedAt,
	}
}

func FromDataModel(row *ediDatamodel.Batch) *Batch {
	return &Batch{
		ID:            row.ID,
		Reference:     row.Reference,
		ControlNumber: row.ControlNumber,
		FileName:      row.FileName,
		Content:       row.Content,
		ClaimCount:    row.ClaimCount,
		TotalCents:    row.TotalCents,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     row.CreatedAt,
	}
}
