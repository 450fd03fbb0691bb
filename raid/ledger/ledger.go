// Package ledger records which drop went to which member. At most one
// assignment exists per (week, floor, target).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"gorm.io/gorm"
)

// Ledger owns LootAssignment records. Creates and target changes are
// serialized per (week, floor) in process and backed by a unique index, so
// concurrent writers to the same key see exactly one success.
type Ledger struct {
	db    *gorm.DB
	locks sync.Map // "week:floor" → *sync.Mutex
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) List(ctx context.Context) ([]model.LootAssignment, error) {
	var out []model.LootAssignment
	err := l.db.WithContext(ctx).Order("week_number, floor, created_at").Find(&out).Error
	return out, err
}

func (l *Ledger) ListByWeek(ctx context.Context, week int) ([]model.LootAssignment, error) {
	var out []model.LootAssignment
	err := l.db.WithContext(ctx).Where("week_number = ?", week).Order("floor, created_at").Find(&out).Error
	return out, err
}

func (l *Ledger) ListByFloorAndWeek(ctx context.Context, floor, week int) ([]model.LootAssignment, error) {
	var out []model.LootAssignment
	err := l.db.WithContext(ctx).Where("week_number = ? AND floor = ?", week, floor).Order("created_at").Find(&out).Error
	return out, err
}

// ListByMember returns the member's assignments, newest week first.
func (l *Ledger) ListByMember(ctx context.Context, memberID string) ([]model.LootAssignment, error) {
	var out []model.LootAssignment
	err := l.db.WithContext(ctx).Where("member_id = ?", memberID).Order("week_number desc, floor").Find(&out).Error
	return out, err
}

func (l *Ledger) Get(ctx context.Context, id string) (*model.LootAssignment, error) {
	return get(l.db.WithContext(ctx), id)
}

func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&model.LootAssignment{}).Count(&n).Error
	return n, err
}

// FindConflict returns the assignment already holding (floor, week, target),
// or nil when the key is free.
func (l *Ledger) FindConflict(ctx context.Context, floor, week int, target model.Target) (*model.LootAssignment, error) {
	return findConflict(l.db.WithContext(ctx), floor, week, target, "")
}

// Create stores a new assignment. a.ID is assigned when empty. A taken key
// fails with a ConflictError naming the existing record.
func (l *Ledger) Create(ctx context.Context, a *model.LootAssignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	unlock := l.lock(lockKey(a.WeekNumber, a.Floor))
	defer unlock()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findConflict(tx, a.Floor, a.WeekNumber, a.Target(), "")
		if err != nil {
			return err
		}
		if existing != nil {
			return conflict(a, existing.ID)
		}
		return tx.Create(a).Error
	})
	return l.translate(ctx, a, err)
}

// Update saves changes to an existing assignment. The uniqueness check runs
// only when the week, floor or target moved.
func (l *Ledger) Update(ctx context.Context, a *model.LootAssignment) error {
	cur, err := l.Get(ctx, a.ID)
	if err != nil {
		return err
	}
	moved := cur.WeekNumber != a.WeekNumber || cur.Floor != a.Floor || cur.Target().Key() != a.Target().Key()

	if moved {
		keys := []string{lockKey(cur.WeekNumber, cur.Floor), lockKey(a.WeekNumber, a.Floor)}
		sort.Strings(keys)
		unlock := l.lock(keys[0])
		defer unlock()
		if keys[1] != keys[0] {
			unlock2 := l.lock(keys[1])
			defer unlock2()
		}
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if moved {
			existing, err := findConflict(tx, a.Floor, a.WeekNumber, a.Target(), a.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return conflict(a, existing.ID)
			}
		}
		a.CreatedAt = cur.CreatedAt
		a.TargetKey = a.Target().Key()
		res := tx.Model(&model.LootAssignment{}).Where("id = ?", a.ID).Updates(map[string]any{
			"week_number":         a.WeekNumber,
			"floor":               a.Floor,
			"target_key":          a.TargetKey,
			"member_id":           a.MemberID,
			"spec_type":           a.SpecType,
			"slot":                a.Slot,
			"is_upgrade_material": a.IsUpgradeMaterial,
			"is_armor_material":   a.IsArmorMaterial,
			"applied_link":        a.AppliedLink,
			"applied_slot":        a.AppliedSlot,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return raid.NotFound("assignment", a.ID)
		}
		return nil
	})
	return l.translate(ctx, a, err)
}

// Delete removes the assignment and returns it.
func (l *Ledger) Delete(ctx context.Context, id string) (*model.LootAssignment, error) {
	var removed *model.LootAssignment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := get(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&model.LootAssignment{}).Error; err != nil {
			return err
		}
		removed = a
		return nil
	})
	return removed, err
}

// SetApplied records which acquisition row the assignment flipped.
func (l *Ledger) SetApplied(ctx context.Context, id string, link *string, slot *model.Slot) error {
	res := l.db.WithContext(ctx).Model(&model.LootAssignment{}).Where("id = ?", id).
		Updates(map[string]any{"applied_link": link, "applied_slot": slot})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return raid.NotFound("assignment", id)
	}
	return nil
}

// translate maps a unique-index violation that slipped past the in-process
// lock (another process, or a race on update) to a ConflictError.
func (l *Ledger) translate(ctx context.Context, a *model.LootAssignment, err error) error {
	if err == nil || !raid.IsUniqueViolation(err) {
		return err
	}
	existingID := ""
	if existing, ferr := findConflict(l.db.WithContext(ctx), a.Floor, a.WeekNumber, a.Target(), a.ID); ferr == nil && existing != nil {
		existingID = existing.ID
	}
	return conflict(a, existingID)
}

func (l *Ledger) lock(key string) func() {
	v, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func lockKey(week, floor int) string {
	return fmt.Sprintf("%d:%d", week, floor)
}

func conflict(a *model.LootAssignment, existingID string) error {
	return &raid.ConflictError{
		Entity:     "assignment",
		Key:        fmt.Sprintf("week %d floor %d %s", a.WeekNumber, a.Floor, a.Target()),
		ExistingID: existingID,
	}
}

func get(tx *gorm.DB, id string) (*model.LootAssignment, error) {
	var a model.LootAssignment
	if err := tx.Where("id = ?", id).Take(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, raid.NotFound("assignment", id)
		}
		return nil, err
	}
	return &a, nil
}

func findConflict(tx *gorm.DB, floor, week int, target model.Target, exceptID string) (*model.LootAssignment, error) {
	q := tx.Where("week_number = ? AND floor = ? AND target_key = ?", week, floor, target.Key())
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var rows []model.LootAssignment
	if err := q.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
