package model

// Slot identifies one of the fixed equipment slots.
type Slot string

const (
	SlotWeapon   Slot = "Weapon"
	SlotHead     Slot = "Head"
	SlotBody     Slot = "Body"
	SlotHands    Slot = "Hands"
	SlotLegs     Slot = "Legs"
	SlotFeet     Slot = "Feet"
	SlotEarrings Slot = "Earrings"
	SlotNecklace Slot = "Necklace"
	SlotBracelet Slot = "Bracelet"
	SlotRing1    Slot = "Ring1"
	SlotRing2    Slot = "Ring2"
)

// AllSlots is the slot enumeration in display order.
var AllSlots = []Slot{
	SlotWeapon, SlotHead, SlotBody, SlotHands, SlotLegs, SlotFeet,
	SlotEarrings, SlotNecklace, SlotBracelet, SlotRing1, SlotRing2,
}

// Valid reports whether s belongs to the slot enumeration.
func (s Slot) Valid() bool {
	for _, v := range AllSlots {
		if v == s {
			return true
		}
	}
	return false
}

// IsArmor reports whether s is upgraded with armor material.
func (s Slot) IsArmor() bool {
	switch s {
	case SlotHead, SlotBody, SlotHands, SlotLegs, SlotFeet:
		return true
	}
	return false
}

// IsAccessory reports whether s is an accessory slot.
func (s Slot) IsAccessory() bool {
	switch s {
	case SlotEarrings, SlotNecklace, SlotBracelet, SlotRing1, SlotRing2:
		return true
	}
	return false
}

// ItemKind is where a BiS piece comes from.
type ItemKind string

const (
	ItemKindRaid          ItemKind = "Raid"
	ItemKindAugmentedTome ItemKind = "AugmentedTome"
)

func (k ItemKind) Valid() bool {
	return k == ItemKindRaid || k == ItemKindAugmentedTome
}

// SpecType names a BiS target set or the bucket an assignment is attributed to.
type SpecType string

const (
	SpecMain  SpecType = "MainSpec"
	SpecOff   SpecType = "OffSpec"
	SpecExtra SpecType = "Extra"
)

// IsGearSet reports whether t names a member's BiS set (main or off).
func (t SpecType) IsGearSet() bool {
	return t == SpecMain || t == SpecOff
}

// IsBucket reports whether t is a valid assignment bucket.
func (t SpecType) IsBucket() bool {
	return t.IsGearSet() || t == SpecExtra
}

// GearItem is one entry of a BiS list.
type GearItem struct {
	Slot            Slot     `json:"slot" binding:"required,slot"`
	Kind            ItemKind `json:"kind" binding:"required,oneof=Raid AugmentedTome"`
	RequiresUpgrade bool     `json:"requires_upgrade"`
}

// BisSet is a member's target gear for one spec. It is assembled from the
// member's link column and BisItem rows and is not persisted directly.
type BisSet struct {
	Link  *string    `json:"link"`
	Items []GearItem `json:"items"`
}

// Item returns the entry for slot, if present.
func (b BisSet) Item(slot Slot) (GearItem, bool) {
	for _, it := range b.Items {
		if it.Slot == slot {
			return it, true
		}
	}
	return GearItem{}, false
}

// BisItem stores one GearItem of a member's active BiS list.
type BisItem struct {
	MemberID        string   `gorm:"primaryKey;size:36"`
	SpecType        SpecType `gorm:"primaryKey;size:16"`
	Slot            Slot     `gorm:"primaryKey;size:16"`
	Kind            ItemKind `gorm:"size:16;not null"`
	RequiresUpgrade bool     `gorm:"not null"`
	Position        int      `gorm:"not null"`
}

func (b BisItem) GearItem() GearItem {
	return GearItem{Slot: b.Slot, Kind: b.Kind, RequiresUpgrade: b.RequiresUpgrade}
}
