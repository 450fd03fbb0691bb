package model

import "time"

// AcquisitionState is one row of a member's per-link acquisition table. Rows
// are never removed when the member switches links.
type AcquisitionState struct {
	MemberID                string    `gorm:"primaryKey;size:36" json:"member_id"`
	SpecType                SpecType  `gorm:"primaryKey;size:16" json:"spec_type"`
	Link                    string    `gorm:"primaryKey;size:128" json:"link"`
	Slot                    Slot      `gorm:"primaryKey;size:16" json:"slot"`
	IsAcquired              bool      `gorm:"not null" json:"is_acquired"`
	UpgradeMaterialAcquired bool      `gorm:"not null" json:"upgrade_material_acquired"`
	UpdatedAt               time.Time `json:"updated_at"`
}
