// Package acquisition stores per member, spec, link and slot whether the base
// item and its upgrade material have been obtained.
package acquisition

import (
	"context"
	"fmt"

	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	colAcquired = "is_acquired"
	colMaterial = "upgrade_material_acquired"
)

// Key addresses one acquisition row.
type Key struct {
	MemberID string         `json:"member_id"`
	Spec     model.SpecType `json:"spec_type"`
	Link     string         `json:"link"`
	Slot     model.Slot     `json:"slot"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.MemberID, k.Spec, k.Link, k.Slot)
}

// State is the acquisition flags for one key. A key without a row reads as
// the zero State.
type State struct {
	IsAcquired              bool `json:"is_acquired"`
	UpgradeMaterialAcquired bool `json:"upgrade_material_acquired"`
}

// Members resolves member records, including their BiS sets.
type Members interface {
	Get(ctx context.Context, id string) (*model.Member, error)
}

// Store reads and writes acquisition rows. Writes to different keys never
// contend; each write is a single conditional statement.
type Store struct {
	db      *gorm.DB
	members Members
}

func NewStore(db *gorm.DB, members Members) *Store {
	return &Store{db: db, members: members}
}

// GetState returns the flags for k. The member must exist.
func (s *Store) GetState(ctx context.Context, k Key) (State, error) {
	if err := validateKey(k); err != nil {
		return State{}, err
	}
	if err := s.checkAddressable(ctx, k); err != nil {
		return State{}, err
	}
	var rows []model.AcquisitionState
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND spec_type = ? AND link = ? AND slot = ?", k.MemberID, k.Spec, k.Link, k.Slot).
		Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return State{}, err
	}
	return State{IsAcquired: rows[0].IsAcquired, UpgradeMaterialAcquired: rows[0].UpgradeMaterialAcquired}, nil
}

// SetAcquired sets the base-item flag and reports whether it changed.
func (s *Store) SetAcquired(ctx context.Context, k Key, value bool) (bool, error) {
	return s.set(ctx, k, colAcquired, value)
}

// SetUpgradeMaterialAcquired sets the material flag and reports whether it
// changed.
func (s *Store) SetUpgradeMaterialAcquired(ctx context.Context, k Key, value bool) (bool, error) {
	return s.set(ctx, k, colMaterial, value)
}

// CurrentStates returns the member's flags under that spec set's current link,
// keyed by slot, together with that link key.
func (s *Store) CurrentStates(ctx context.Context, memberID string, spec model.SpecType) (map[model.Slot]State, string, error) {
	if err := raid.ValidateGearSet(spec); err != nil {
		return nil, "", err
	}
	m, err := s.members.Get(ctx, memberID)
	if err != nil {
		return nil, "", err
	}
	link := model.LinkKey(m.Spec(spec).Link)
	var rows []model.AcquisitionState
	err = s.db.WithContext(ctx).
		Where("member_id = ? AND spec_type = ? AND link = ?", memberID, spec, link).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}
	out := make(map[model.Slot]State, len(rows))
	for _, r := range rows {
		out[r.Slot] = State{IsAcquired: r.IsAcquired, UpgradeMaterialAcquired: r.UpgradeMaterialAcquired}
	}
	return out, link, nil
}

// ListForMember returns every row recorded for the member across all links.
// An unknown member is a NotFoundError, not an empty history.
func (s *Store) ListForMember(ctx context.Context, memberID string) ([]model.AcquisitionState, error) {
	if _, err := s.members.Get(ctx, memberID); err != nil {
		return nil, err
	}
	var rows []model.AcquisitionState
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("spec_type, link, slot").
		Find(&rows).Error
	return rows, err
}

// ListAll returns every recorded row.
func (s *Store) ListAll(ctx context.Context) ([]model.AcquisitionState, error) {
	var rows []model.AcquisitionState
	err := s.db.WithContext(ctx).Find(&rows).Error
	return rows, err
}

func (s *Store) set(ctx context.Context, k Key, column string, value bool) (bool, error) {
	if err := validateKey(k); err != nil {
		return false, err
	}
	if err := s.checkAddressable(ctx, k); err != nil {
		return false, err
	}

	changed, err := s.update(ctx, k, column, value)
	if err != nil || changed || !value {
		// A missing row already reads as false.
		return changed, err
	}

	row := model.AcquisitionState{MemberID: k.MemberID, SpecType: k.Spec, Link: k.Link, Slot: k.Slot}
	if column == colAcquired {
		row.IsAcquired = true
	} else {
		row.UpgradeMaterialAcquired = true
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// Lost an insert race; the winner's row may still hold the other value.
	return s.update(ctx, k, column, value)
}

func (s *Store) update(ctx context.Context, k Key, column string, value bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.AcquisitionState{}).
		Where("member_id = ? AND spec_type = ? AND link = ? AND slot = ?", k.MemberID, k.Spec, k.Link, k.Slot).
		Where(column+" <> ?", value).
		Update(column, value)
	return res.RowsAffected > 0, res.Error
}

// checkAddressable requires the member to exist and the (link, slot) pair to
// be either part of the current BiS set or already recorded.
func (s *Store) checkAddressable(ctx context.Context, k Key) error {
	m, err := s.members.Get(ctx, k.MemberID)
	if err != nil {
		return err
	}
	set := m.Spec(k.Spec)
	if model.LinkKey(set.Link) == k.Link {
		if _, ok := set.Item(k.Slot); ok {
			return nil
		}
	}
	var n int64
	err = s.db.WithContext(ctx).Model(&model.AcquisitionState{}).
		Where("member_id = ? AND spec_type = ? AND link = ? AND slot = ?", k.MemberID, k.Spec, k.Link, k.Slot).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return raid.NotFound("acquisition entry", k)
	}
	return nil
}

func validateKey(k Key) error {
	if err := raid.ValidateGearSet(k.Spec); err != nil {
		return err
	}
	return raid.ValidateSlot(k.Slot)
}
