// Package week tracks raid weeks and which one is current.
package week

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"gorm.io/gorm"
)

// Ledger owns Week records. Deleting a week cascades to its assignments.
type Ledger struct {
	db *gorm.DB
	// mu is held shared by Hold and exclusively by SetCurrent and Delete, so
	// no assignment is written against a week while it is being removed.
	mu sync.RWMutex
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// List returns all weeks in ascending order.
func (l *Ledger) List(ctx context.Context) ([]model.Week, error) {
	var weeks []model.Week
	err := l.db.WithContext(ctx).Order("number").Find(&weeks).Error
	return weeks, err
}

func (l *Ledger) Get(ctx context.Context, n int) (*model.Week, error) {
	var w model.Week
	if err := l.db.WithContext(ctx).Where("number = ?", n).Take(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, raid.NotFound("week", n)
		}
		return nil, err
	}
	return &w, nil
}

// GetCurrent returns the current week, or a NotFoundError when none is set.
func (l *Ledger) GetCurrent(ctx context.Context) (*model.Week, error) {
	var w model.Week
	if err := l.db.WithContext(ctx).Where("is_current = ?", true).Order("number").First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, raid.NotFound("week", "current")
		}
		return nil, err
	}
	return &w, nil
}

// Create adds week n. Week numbers are chosen by the caller.
func (l *Ledger) Create(ctx context.Context, n int) (*model.Week, error) {
	if n < 1 {
		return nil, raid.Invalid("week_number", "must be positive")
	}
	w := &model.Week{Number: n}
	if err := l.db.WithContext(ctx).Create(w).Error; err != nil {
		if raid.IsUniqueViolation(err) {
			return nil, &raid.ConflictError{Entity: "week", Key: strconv.Itoa(n), ExistingID: strconv.Itoa(n)}
		}
		return nil, err
	}
	return w, nil
}

// SetCurrent makes n the only current week in one transaction.
func (l *Ledger) SetCurrent(ctx context.Context, n int) (*model.Week, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var w model.Week
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("number = ?", n).Take(&w).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return raid.NotFound("week", n)
			}
			return err
		}
		if err := tx.Model(&model.Week{}).
			Where("number <> ? AND is_current = ?", n, true).
			Update("is_current", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Week{}).Where("number = ?", n).Update("is_current", true).Error; err != nil {
			return err
		}
		w.IsCurrent = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Delete removes week n and every assignment recorded against it, returning
// the removed assignments. Deleting the current week leaves no week current.
func (l *Ledger) Delete(ctx context.Context, n int) ([]model.LootAssignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []model.LootAssignment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("number = ?", n).Delete(&model.Week{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return raid.NotFound("week", n)
		}
		if err := tx.Where("week_number = ?", n).Order("floor, created_at").Find(&removed).Error; err != nil {
			return err
		}
		return tx.Where("week_number = ?", n).Delete(&model.LootAssignment{}).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Hold resolves week n (0 means the current week) and keeps it from being
// deleted until release is called. release is safe to call more than once.
func (l *Ledger) Hold(ctx context.Context, n int) (*model.Week, func(), error) {
	l.mu.RLock()
	var once sync.Once
	release := func() { once.Do(l.mu.RUnlock) }

	var (
		w   *model.Week
		err error
	)
	if n == 0 {
		w, err = l.GetCurrent(ctx)
		if errors.Is(err, raid.ErrNotFound) {
			err = raid.Invalid("week_number", "no current week is set")
		}
	} else {
		w, err = l.Get(ctx, n)
	}
	if err != nil {
		release()
		return nil, nil, err
	}
	return w, release, nil
}
