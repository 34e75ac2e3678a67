package auth

import "time"

// RoleAssignment binds a user to exactly one active role.
type RoleAssignment struct {
	ID        int64      `json:"id" gorm:"primaryKey"`
	UserID    int64      `json:"user_id" gorm:"column:user_id;not null;index"`
	Role      Role       `json:"role" gorm:"column:role;not null"`
	Active    bool       `json:"active" gorm:"column:active;not null"`
	GrantedBy int64      `json:"granted_by" gorm:"column:granted_by;not null"`
	GrantedAt time.Time  `json:"granted_at" gorm:"column:granted_at;not null"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" gorm:"column:revoked_at"`
}

func (RoleAssignment) TableName() string {
	return "role_assignments"
}

type AssignRoleDTO struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// CapabilityView is returned by GET /me/capabilities.
type CapabilityView struct {
	UserID       int64        `json:"user_id"`
	Role         Role         `json:"role"`
	Capabilities Capabilities `json:"capabilities"`
}
