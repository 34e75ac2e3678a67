package edi

import "time"

type Batch struct {
	ID            int64     `gorm:"primaryKey"`
	Reference     string    `gorm:"column:reference;uniqueIndex;not null"`
	ControlNumber int64     `gorm:"column:control_number;uniqueIndex;not null"`
	FileName      string    `gorm:"column:file_name;not null"`
	Content       string    `gorm:"column:content;type:text;not null"`
	ClaimCount    int       `gorm:"column:claim_count;not null"`
	TotalCents    int64     `gorm:"column:total_cents;not null"`
	CreatedBy     int64     `gorm:"column:created_by;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Batch) TableName() string {
	return "edi_batches"
}
