package client

import "time"

// Client is the host platform's client record. The engine only reads it for
// billing identifiers and names.
type Client struct {
	ID          int64      `gorm:"primaryKey"`
	FirstName   string     `gorm:"column:first_name;not null"`
	LastName    string     `gorm:"column:last_name;not null"`
	MedicaidID  string     `gorm:"column:medicaid_id"`
	DateOfBirth *time.Time `gorm:"column:date_of_birth;type:date"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Client) TableName() string {
	return "clients"
}
