package loot_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kasuganosora/raidloot/server/metrics"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/acquisition"
	"github.com/kasuganosora/raidloot/server/raid/eligibility"
	"github.com/kasuganosora/raidloot/server/raid/ledger"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"github.com/kasuganosora/raidloot/server/raid/notify"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"github.com/kasuganosora/raidloot/server/raid/week"
	"github.com/kasuganosora/raidloot/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

func init() { roster.PinCost = bcrypt.MinCost }

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Emit(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type env struct {
	engine *loot.Engine
	dir    *roster.Directory
	store  *acquisition.Store
	weeks  *week.Ledger
	ledger *ledger.Ledger
	events *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithLogger(t, testutil.Logger())
}

func newEnvWithLogger(t *testing.T, logger *zap.Logger) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	dir := roster.NewDirectory(db, testutil.Logger())
	store := acquisition.NewStore(db, dir)
	weeks := week.NewLedger(db)
	led := ledger.NewLedger(db)
	rec := &recorder{}
	e := loot.NewEngine(loot.Deps{
		Members: dir, States: store, Weeks: weeks, Ledger: led,
		Notifier: rec, Metrics: metrics.New(), Logger: logger, Floors: 4,
	})
	return &env{engine: e, dir: dir, store: store, weeks: weeks, ledger: led, events: rec}
}

func (v *env) member(t *testing.T, name, link string, items ...model.GearItem) *model.Member {
	t.Helper()
	ctx := context.Background()
	m, _, err := v.dir.Create(ctx, name, model.RoleDPS)
	require.NoError(t, err)
	m, err = v.dir.SetBisLink(ctx, m.ID, model.SpecMain, &link, items)
	require.NoError(t, err)
	return m
}

func (v *env) currentWeek(t *testing.T, n int) {
	t.Helper()
	_, err := v.weeks.Create(context.Background(), n)
	require.NoError(t, err)
	_, err = v.weeks.SetCurrent(context.Background(), n)
	require.NoError(t, err)
}

func (v *env) state(t *testing.T, m *model.Member, link string, slot model.Slot) acquisition.State {
	t.Helper()
	st, err := v.store.GetState(context.Background(), acquisition.Key{MemberID: m.ID, Spec: model.SpecMain, Link: link, Slot: slot})
	require.NoError(t, err)
	return st
}

func TestAssign_EndToEnd(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})
	v.currentWeek(t, 1)

	got, err := v.engine.Assign(ctx, loot.AssignRequest{
		Floor: 2, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.WeekNumber)
	require.NotNil(t, got.AppliedSlot)
	assert.Equal(t, model.SlotHead, *got.AppliedSlot)
	assert.True(t, v.state(t, a, "L1", model.SlotHead).IsAcquired)
	assert.Equal(t, []notify.Kind{notify.AssignmentCreated}, v.events.kinds())

	_, err = v.engine.Assign(ctx, loot.AssignRequest{
		Floor: 2, Week: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain,
	})
	var ce *raid.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, got.ID, ce.ExistingID)

	all, err := v.ledger.ListByFloorAndWeek(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, v.events.kinds(), 1, "a rejected assignment emits nothing")
}

func TestAssign_Validation(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1")

	_, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	assert.ErrorIs(t, err, raid.ErrValidation, "no current week")

	v.currentWeek(t, 1)
	_, err = v.engine.Assign(ctx, loot.AssignRequest{Floor: 5, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	assert.ErrorIs(t, err, raid.ErrValidation)
	_, err = v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.Target{}, MemberID: a.ID, Bucket: model.SpecMain})
	assert.ErrorIs(t, err, raid.ErrValidation)
	_, err = v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Week: 8, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	assert.ErrorIs(t, err, raid.ErrNotFound)
	_, err = v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: "ghost", Bucket: model.SpecMain})
	assert.ErrorIs(t, err, raid.ErrNotFound)
	assert.Empty(t, v.events.kinds())
}

func TestUndo_ReversesAcquisition(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1",
		model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid},
		model.GearItem{Slot: model.SlotHands, Kind: model.ItemKindAugmentedTome},
	)
	v.currentWeek(t, 1)

	gear, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	require.NoError(t, err)
	mat, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 2, Target: model.Target{IsArmorMaterial: true}, MemberID: a.ID, Bucket: model.SpecMain})
	require.NoError(t, err)
	assert.True(t, v.state(t, a, "L1", model.SlotHands).UpgradeMaterialAcquired)

	_, err = v.engine.Undo(ctx, gear.ID)
	require.NoError(t, err)
	assert.False(t, v.state(t, a, "L1", model.SlotHead).IsAcquired)

	_, err = v.engine.Undo(ctx, mat.ID)
	require.NoError(t, err)
	assert.False(t, v.state(t, a, "L1", model.SlotHands).UpgradeMaterialAcquired)

	assert.Equal(t, []notify.Kind{
		notify.AssignmentCreated, notify.AssignmentCreated,
		notify.AssignmentRemoved, notify.AssignmentRemoved,
	}, v.events.kinds())

	_, err = v.engine.Undo(ctx, gear.ID)
	assert.ErrorIs(t, err, raid.ErrNotFound)
}

func TestUndo_LeavesPriorStateAlone(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})
	v.currentWeek(t, 1)

	_, err := v.engine.SetAcquired(ctx, acquisition.Key{MemberID: a.ID, Spec: model.SpecMain, Link: "L1", Slot: model.SlotHead}, true)
	require.NoError(t, err)

	got, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	require.NoError(t, err)
	assert.Nil(t, got.AppliedSlot, "nothing flipped")

	_, err = v.engine.Undo(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, v.state(t, a, "L1", model.SlotHead).IsAcquired)
}

func TestAssign_ExtraTouchesNoState(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})
	v.currentWeek(t, 1)

	got, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecExtra})
	require.NoError(t, err)
	assert.Nil(t, got.AppliedSlot)
	assert.False(t, v.state(t, a, "L1", model.SlotHead).IsAcquired)
}

func TestReassign(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	head := model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid}
	a := v.member(t, "A", "LA", head)
	b := v.member(t, "B", "LB", head)
	v.currentWeek(t, 1)

	got, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	require.NoError(t, err)

	moved, err := v.engine.Reassign(ctx, got.ID, b.ID, model.SpecMain)
	require.NoError(t, err)
	assert.Equal(t, b.ID, moved.MemberID)
	assert.False(t, v.state(t, a, "LA", model.SlotHead).IsAcquired)
	assert.True(t, v.state(t, b, "LB", model.SlotHead).IsAcquired)

	stored, err := v.ledger.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.MemberID)
	require.NotNil(t, stored.AppliedLink)
	assert.Equal(t, "LB", *stored.AppliedLink)

	_, err = v.engine.Reassign(ctx, got.ID, b.ID, "Alt")
	assert.ErrorIs(t, err, raid.ErrValidation)
}

func TestSetAcquired_EmitsOnlyOnChange(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1", model.GearItem{Slot: model.SlotRing1, Kind: model.ItemKindAugmentedTome})
	k := acquisition.Key{MemberID: a.ID, Spec: model.SpecMain, Link: "L1", Slot: model.SlotRing1}

	for i := 0; i < 3; i++ {
		_, err := v.engine.SetUpgradeMaterialAcquired(ctx, k, true)
		require.NoError(t, err)
	}
	_, err := v.engine.SetAcquired(ctx, k, true)
	require.NoError(t, err)

	assert.Equal(t, []notify.Kind{notify.AcquisitionChanged, notify.AcquisitionChanged}, v.events.kinds())
}

func TestDeleteWeek_EmitsPerAssignment(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1")
	v.currentWeek(t, 1)

	for floor := 1; floor <= 3; floor++ {
		_, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: floor, Target: model.Target{IsUpgradeMaterial: true}, MemberID: a.ID, Bucket: model.SpecExtra})
		require.NoError(t, err)
	}
	removed, err := v.engine.DeleteWeek(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	left, _ := v.ledger.ListByWeek(ctx, 1)
	assert.Empty(t, left)
	kinds := v.events.kinds()
	assert.Len(t, kinds, 6)
	assert.Equal(t, notify.AssignmentRemoved, kinds[5])
}

func TestDeletedMemberLeavesAssignments(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})
	v.currentWeek(t, 1)

	got, err := v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.SlotTarget(model.SlotHead), MemberID: a.ID, Bucket: model.SpecMain})
	require.NoError(t, err)
	require.NoError(t, v.dir.Delete(ctx, a.ID))

	stored, err := v.ledger.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.MemberID)

	// undo tolerates the dangling member
	_, err = v.engine.Undo(ctx, got.ID)
	assert.NoError(t, err)
}

func TestResolveThroughEngine(t *testing.T) {
	v := newEnv(t)
	a := v.member(t, "A", "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})

	res, err := v.engine.Resolve(context.Background(), eligibility.Drop{Floor: 1, Target: model.SlotTarget(model.SlotHead)})
	require.NoError(t, err)
	assert.Equal(t, model.SpecMain, res.Bucket)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, a.ID, res.Candidates[0].MemberID)
}

func TestResolve_LogsCandidates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	v := newEnvWithLogger(t, zap.New(core))
	v.member(t, "A", "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})

	_, err := v.engine.Resolve(context.Background(), eligibility.Drop{Floor: 1, Target: model.SlotTarget(model.SlotHead)})
	require.NoError(t, err)

	entries := logs.FilterMessage("drop resolved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []any{"A (Head)"}, entries[0].ContextMap()["candidates"])
}

func TestAssign_ConcurrentSameKey(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	const n = 10
	members := make([]*model.Member, n)
	for i := range members {
		members[i] = v.member(t, string(rune('A'+i)), "L1", model.GearItem{Slot: model.SlotHead, Kind: model.ItemKindRaid})
	}
	v.currentWeek(t, 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	start := make(chan struct{})
	for _, m := range members {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := v.engine.Assign(ctx, loot.AssignRequest{
				Floor: 2, Target: model.SlotTarget(model.SlotHead), MemberID: id, Bucket: model.SpecMain,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, raid.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(m.ID)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, []notify.Kind{notify.AssignmentCreated}, v.events.kinds())

	rows, err := v.ledger.ListByFloorAndWeek(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTotals(t *testing.T) {
	v := newEnv(t)
	ctx := context.Background()
	a := v.member(t, "A", "L1")
	v.member(t, "B", "L2")
	v.currentWeek(t, 1)
	_, err := v.weeks.Create(ctx, 2)
	require.NoError(t, err)
	_, err = v.engine.Assign(ctx, loot.AssignRequest{Floor: 1, Target: model.Target{IsArmorMaterial: true}, MemberID: a.ID, Bucket: model.SpecExtra})
	require.NoError(t, err)

	members, weeks, assignments, err := v.engine.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), members)
	assert.Equal(t, int64(2), weeks)
	assert.Equal(t, int64(1), assignments)
}
