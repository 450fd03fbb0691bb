// Package raid holds the error taxonomy and input checks shared by the loot
// engine components.
package raid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kasuganosora/raidloot/server/model"
	"gorm.io/gorm"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a uniqueness violation. ExistingID names the record
// already holding the key, when there is one.
type ConflictError struct {
	Entity     string
	Key        string
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("%s %s already exists (id %s)", e.Entity, e.Key, e.ExistingID)
	}
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// any of the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

// ValidateTarget checks that t names exactly one of a known slot, the
// upgrade material or the armor material.
func ValidateTarget(t model.Target) error {
	n := 0
	if t.Slot != nil {
		if !t.Slot.Valid() {
			return Invalid("slot", fmt.Sprintf("unknown slot %q", *t.Slot))
		}
		n++
	}
	if t.IsUpgradeMaterial {
		n++
	}
	if t.IsArmorMaterial {
		n++
	}
	if n != 1 {
		return Invalid("target", "exactly one of slot, is_upgrade_material, is_armor_material is required")
	}
	return nil
}

// ValidateFloor checks 1 <= floor <= floors.
func ValidateFloor(floor, floors int) error {
	if floor < 1 || floor > floors {
		return Invalid("floor", fmt.Sprintf("must be between 1 and %d", floors))
	}
	return nil
}

// ValidateBucket checks an assignment bucket.
func ValidateBucket(spec model.SpecType) error {
	if !spec.IsBucket() {
		return Invalid("spec_type", fmt.Sprintf("unknown spec type %q", spec))
	}
	return nil
}

// ValidateGearSet checks a BiS spec selector (main or off).
func ValidateGearSet(spec model.SpecType) error {
	if !spec.IsGearSet() {
		return Invalid("spec_type", fmt.Sprintf("%q is not a gear set", spec))
	}
	return nil
}

// ValidateSlot checks membership in the slot enumeration.
func ValidateSlot(slot model.Slot) error {
	if !slot.Valid() {
		return Invalid("slot", fmt.Sprintf("unknown slot %q", slot))
	}
	return nil
}
