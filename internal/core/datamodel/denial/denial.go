package denial

import "time"

type Denial struct {
	ID                  int64      `gorm:"primaryKey"`
	ClaimID             int64      `gorm:"column:claim_id;uniqueIndex;not null"`
	Code                string     `gorm:"column:code;not null"`
	Reason              string     `gorm:"column:reason;not null"`
	AmountCents         int64      `gorm:"column:amount_cents;not null"`
	DeniedAt            time.Time  `gorm:"column:denied_at;not null"`
	AppealDeadline      time.Time  `gorm:"column:appeal_deadline;not null;index"`
	Status              string     `gorm:"column:status;not null;index"`
	Outcome             *string    `gorm:"column:outcome"`
	ResolvedAmountCents *int64     `gorm:"column:resolved_amount_cents"`
	Overdue             bool       `gorm:"column:overdue;not null"`
	ResolvedAt          *time.Time `gorm:"column:resolved_at"`
	ResolvedBy          *int64     `gorm:"column:resolved_by"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Denial) TableName() string {
	return "denials"
}

type Appeal struct {
	ID            int64     `gorm:"primaryKey"`
	DenialID      int64     `gorm:"column:denial_id;not null;index"`
	Reason        string    `gorm:"column:reason;not null"`
	Documentation string    `gorm:"column:documentation"`
	FiledBy       int64     `gorm:"column:filed_by;not null"`
	FiledAt       time.Time `gorm:"column:filed_at;not null"`
}

func (Appeal) TableName() string {
	return "appeals"
}

type Task struct {
	ID          int64      `gorm:"primaryKey"`
	DenialID    int64      `gorm:"column:denial_id;not null;index"`
	Title       string     `gorm:"column:title;not null"`
	AssigneeID  *int64     `gorm:"column:assignee_id"`
	DueDate     *time.Time `gorm:"column:due_date;type:date"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CompletedBy *int64     `gorm:"column:completed_by"`
	CreatedBy   int64      `gorm:"column:created_by;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Task) TableName() string {
	return "denial_tasks"
}
