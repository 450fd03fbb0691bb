package model_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := &model.Member{
		ID: uuid.NewString(), Name: "Alice",
		Role: model.RoleDPS, Permission: model.PermissionUser, PinHash: "hash",
	}
	require.NoError(t, db.Create(m).Error)

	var found model.Member
	require.NoError(t, db.First(&found, "id = ?", m.ID).Error)
	assert.Equal(t, "Alice", found.Name)

	require.NoError(t, db.Create(&model.BisItem{
		MemberID: m.ID, SpecType: model.SpecMain, Slot: model.SlotHead, Kind: model.ItemKindRaid,
	}).Error)

	require.NoError(t, db.Create(&model.AcquisitionState{
		MemberID: m.ID, SpecType: model.SpecMain, Link: "L1", Slot: model.SlotHead, IsAcquired: true,
	}).Error)

	require.NoError(t, db.Create(&model.Week{Number: 3}).Error)
	var w model.Week
	require.NoError(t, db.First(&w, 3).Error)
	assert.Equal(t, 3, w.Number)

	a := &model.LootAssignment{
		ID: uuid.NewString(), WeekNumber: 3, Floor: 1, MemberID: m.ID, SpecType: model.SpecMain,
	}
	a.SetTarget(model.SlotTarget(model.SlotHead))
	require.NoError(t, db.Create(a).Error)

	al := &model.AuditLog{TraceID: "trace-001", Action: "assignment.create", Request: datatypes.JSON(`{"floor":1}`)}
	require.NoError(t, db.Create(al).Error)
	assert.Greater(t, al.ID, int64(0))
}

func TestAssignmentTargetUnique(t *testing.T) {
	db := testutil.SetupTestDB(t)

	mk := func(floor int, target model.Target) *model.LootAssignment {
		a := &model.LootAssignment{ID: uuid.NewString(), WeekNumber: 1, Floor: floor, MemberID: "m", SpecType: model.SpecExtra}
		a.SetTarget(target)
		return a
	}

	require.NoError(t, db.Create(mk(1, model.Target{IsUpgradeMaterial: true})).Error)
	err := db.Create(mk(1, model.Target{IsUpgradeMaterial: true})).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// different floor or different material kind never collides
	require.NoError(t, db.Create(mk(2, model.Target{IsUpgradeMaterial: true})).Error)
	require.NoError(t, db.Create(mk(1, model.Target{IsArmorMaterial: true})).Error)
}

func TestTargetKey(t *testing.T) {
	head := model.SlotTarget(model.SlotHead)
	assert.Equal(t, "Head|false|false", head.Key())
	assert.Equal(t, "-|true|false", model.Target{IsUpgradeMaterial: true}.Key())
	assert.NotEqual(t, model.Target{}.Key(), model.Target{IsArmorMaterial: true}.Key())
	assert.True(t, model.Target{IsArmorMaterial: true}.IsMaterial())
	assert.False(t, head.IsMaterial())
}

func TestSlotCategories(t *testing.T) {
	assert.Len(t, model.AllSlots, 11)
	assert.True(t, model.SlotFeet.IsArmor())
	assert.False(t, model.SlotWeapon.IsArmor())
	assert.True(t, model.SlotRing2.IsAccessory())
	assert.False(t, model.Slot("Tail").Valid())
}

func TestPermissionAtLeast(t *testing.T) {
	assert.True(t, model.PermissionAdministrator.AtLeast(model.PermissionManager))
	assert.True(t, model.PermissionManager.AtLeast(model.PermissionManager))
	assert.False(t, model.PermissionUser.AtLeast(model.PermissionManager))
	assert.False(t, model.Permission("Root").AtLeast(model.PermissionUser))
}
