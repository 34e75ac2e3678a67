package servicetype

import "time"

type ServiceType struct {
	ID            int64     `gorm:"primaryKey"`
	Code          string    `gorm:"column:code;uniqueIndex;not null"`
	Name          string    `gorm:"column:name;not null"`
	Description   string    `gorm:"column:description"`
	UnitRateCents int64     `gorm:"column:unit_rate_cents;not null"`
	IsActive      bool      `gorm:"column:is_active;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ServiceType) TableName() string {
	return "service_types"
}
