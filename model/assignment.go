package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Target identifies a lootable unit: either a gear slot or one of the two
// material kinds.
type Target struct {
	Slot              *Slot `json:"slot,omitempty"`
	IsUpgradeMaterial bool  `json:"is_upgrade_material"`
	IsArmorMaterial   bool  `json:"is_armor_material"`
}

// SlotTarget is a shorthand for a base-item target.
func SlotTarget(s Slot) Target { return Target{Slot: &s} }

// Key encodes the full (slot, isUpgradeMaterial, isArmorMaterial) tuple.
// A nil slot and an empty slot encode differently from any real slot.
func (t Target) Key() string {
	slot := "-"
	if t.Slot != nil {
		slot = string(*t.Slot)
	}
	return fmt.Sprintf("%s|%t|%t", slot, t.IsUpgradeMaterial, t.IsArmorMaterial)
}

// IsMaterial reports whether the target is a material rather than a gear piece.
func (t Target) IsMaterial() bool {
	return t.Slot == nil && (t.IsUpgradeMaterial || t.IsArmorMaterial)
}

func (t Target) String() string {
	switch {
	case t.Slot != nil:
		return string(*t.Slot)
	case t.IsUpgradeMaterial:
		return "Upgrade material"
	case t.IsArmorMaterial:
		return "Armor material"
	}
	return "?"
}

// LootAssignment records which member received a drop.
type LootAssignment struct {
	ID                string   `gorm:"primaryKey;size:36" json:"id"`
	WeekNumber        int      `gorm:"not null;uniqueIndex:idx_assignment_target,priority:1" json:"week_number"`
	Floor             int      `gorm:"not null;uniqueIndex:idx_assignment_target,priority:2" json:"floor"`
	TargetKey         string   `gorm:"size:48;not null;uniqueIndex:idx_assignment_target,priority:3" json:"-"`
	MemberID          string   `gorm:"size:36;not null;index:idx_assignment_member" json:"member_id"`
	SpecType          SpecType `gorm:"size:16;not null" json:"spec_type"`
	Slot              *Slot    `gorm:"size:16" json:"slot,omitempty"`
	IsUpgradeMaterial bool     `gorm:"not null" json:"is_upgrade_material"`
	IsArmorMaterial   bool     `gorm:"not null" json:"is_armor_material"`
	// AppliedLink and AppliedSlot record which acquisition row the assignment
	// flipped, so undo can reverse exactly that row.
	AppliedLink *string   `gorm:"size:128" json:"applied_link,omitempty"`
	AppliedSlot *Slot     `gorm:"size:16" json:"applied_slot,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *LootAssignment) Target() Target {
	return Target{Slot: a.Slot, IsUpgradeMaterial: a.IsUpgradeMaterial, IsArmorMaterial: a.IsArmorMaterial}
}

func (a *LootAssignment) SetTarget(t Target) {
	a.Slot = t.Slot
	a.IsUpgradeMaterial = t.IsUpgradeMaterial
	a.IsArmorMaterial = t.IsArmorMaterial
	a.TargetKey = t.Key()
}

// BeforeSave keeps TargetKey in sync with the target columns.
func (a *LootAssignment) BeforeSave(*gorm.DB) error {
	a.TargetKey = a.Target().Key()
	return nil
}
