package model

import "time"

// Role is a member's raid role.
type Role string

const (
	RoleDPS     Role = "DPS"
	RoleSupport Role = "Support"
)

func (r Role) Valid() bool {
	return r == RoleDPS || r == RoleSupport
}

// Permission is a member's access level.
type Permission string

const (
	PermissionUser          Permission = "User"
	PermissionManager       Permission = "Manager"
	PermissionAdministrator Permission = "Administrator"
)

func (p Permission) rank() int {
	switch p {
	case PermissionUser:
		return 1
	case PermissionManager:
		return 2
	case PermissionAdministrator:
		return 3
	}
	return 0
}

func (p Permission) Valid() bool { return p.rank() > 0 }

// AtLeast reports whether p grants everything min grants.
func (p Permission) AtLeast(min Permission) bool {
	return p.rank() >= min.rank() && p.rank() > 0
}

// Member is a raid roster entry.
type Member struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"uniqueIndex:idx_member_name;size:64;not null" json:"name"`
	Role         Role       `gorm:"size:16;not null" json:"role"`
	Permission   Permission `gorm:"size:16;not null" json:"permission"`
	PinHash      string     `gorm:"size:100;not null" json:"-"`
	ImageURL     *string    `gorm:"size:512" json:"image_url,omitempty"`
	MainSpecLink *string    `gorm:"size:128" json:"-"`
	OffSpecLink  *string    `gorm:"size:128" json:"-"`
	MainSpec     BisSet     `gorm:"-" json:"main_spec"`
	OffSpec      BisSet     `gorm:"-" json:"off_spec"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Spec returns the BiS set for spec, or nil for Extra.
func (m *Member) Spec(spec SpecType) *BisSet {
	switch spec {
	case SpecMain:
		return &m.MainSpec
	case SpecOff:
		return &m.OffSpec
	}
	return nil
}

// LinkKey is the acquisition-table key for a link. A set without a link keys
// its state under the empty string.
func LinkKey(link *string) string {
	if link == nil {
		return ""
	}
	return *link
}
