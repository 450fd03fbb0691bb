// Package loot ties the member directory, acquisition store, week and
// assignment ledgers together: it commits assignments, keeps acquisition
// flags in step and announces every committed change.
package loot

import (
	"context"
	"errors"

	"github.com/kasuganosora/raidloot/server/metrics"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/acquisition"
	"github.com/kasuganosora/raidloot/server/raid/eligibility"
	"github.com/kasuganosora/raidloot/server/raid/ledger"
	"github.com/kasuganosora/raidloot/server/raid/notify"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"github.com/kasuganosora/raidloot/server/raid/week"
	"go.uber.org/zap"
)

// Emitter accepts change events. It must not block.
type Emitter interface {
	Emit(e notify.Event)
}

type Deps struct {
	Members  *roster.Directory
	States   *acquisition.Store
	Weeks    *week.Ledger
	Ledger   *ledger.Ledger
	Notifier Emitter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Floors   int
}

type Engine struct {
	members  *roster.Directory
	states   *acquisition.Store
	weeks    *week.Ledger
	ledger   *ledger.Ledger
	resolver *eligibility.Resolver
	notifier Emitter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	floors   int
}

func NewEngine(d Deps) *Engine {
	if d.Floors <= 0 {
		d.Floors = 4
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		members:  d.Members,
		states:   d.States,
		weeks:    d.Weeks,
		ledger:   d.Ledger,
		resolver: eligibility.NewResolver(d.Members, d.States, d.Floors),
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		floors:   d.Floors,
	}
}

func (e *Engine) Floors() int { return e.floors }

// AssignRequest asks for a drop to be given to a member. Week 0 means the
// current week.
type AssignRequest struct {
	Floor    int
	Week     int
	Target   model.Target
	MemberID string
	Bucket   model.SpecType
}

// Resolve lists who still needs a drop.
func (e *Engine) Resolve(ctx context.Context, d eligibility.Drop) (*eligibility.Result, error) {
	res, err := e.resolver.Resolve(ctx, d)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("drop resolved",
		zap.Int("floor", d.Floor),
		zap.String("target", d.Target.Key()),
		zap.String("bucket", string(res.Bucket)),
		zap.Stringers("candidates", res.Candidates))
	return res, nil
}

// Assign commits an assignment and, for MainSpec and OffSpec, marks the
// recipient's acquisition row under that spec set's current link. If that update
// fails the assignment is kept and the error is returned with it.
func (e *Engine) Assign(ctx context.Context, req AssignRequest) (*model.LootAssignment, error) {
	if err := raid.ValidateTarget(req.Target); err != nil {
		return nil, err
	}
	if err := raid.ValidateFloor(req.Floor, e.floors); err != nil {
		return nil, err
	}
	if err := raid.ValidateBucket(req.Bucket); err != nil {
		return nil, err
	}
	if req.MemberID == "" {
		return nil, raid.Invalid("member_id", "required")
	}

	w, release, err := e.weeks.Hold(ctx, req.Week)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := e.members.Get(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}

	a := &model.LootAssignment{
		WeekNumber: w.Number,
		Floor:      req.Floor,
		MemberID:   m.ID,
		SpecType:   req.Bucket,
	}
	a.SetTarget(req.Target)
	if err := e.ledger.Create(ctx, a); err != nil {
		if errors.Is(err, raid.ErrConflict) {
			e.metrics.AssignmentConflict()
		}
		return nil, err
	}
	e.metrics.AssignmentCreated(string(a.SpecType))

	applyErr := e.applyTo(ctx, a, m)
	e.emit(notify.AssignmentEvent(notify.AssignmentCreated, a))
	if applyErr != nil {
		e.logger.Warn("assignment committed but acquisition update failed",
			zap.String("assignment_id", a.ID),
			zap.String("member_id", a.MemberID),
			zap.Error(applyErr))
		return a, applyErr
	}
	return a, nil
}

// Undo deletes an assignment and reverses the acquisition flag it set.
func (e *Engine) Undo(ctx context.Context, id string) (*model.LootAssignment, error) {
	removed, err := e.ledger.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	e.metrics.AssignmentRemoved(1)
	revertErr := e.revert(ctx, removed)
	e.emit(notify.AssignmentEvent(notify.AssignmentRemoved, removed))
	return removed, revertErr
}

// Reassign moves an assignment to another recipient or bucket. The old
// recipient's flag is reversed and the new recipient's flag is set.
func (e *Engine) Reassign(ctx context.Context, id, memberID string, bucket model.SpecType) (*model.LootAssignment, error) {
	if err := raid.ValidateBucket(bucket); err != nil {
		return nil, err
	}
	cur, err := e.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	_, release, err := e.weeks.Hold(ctx, cur.WeekNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := e.members.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	next := *cur
	next.MemberID = m.ID
	next.SpecType = bucket
	next.AppliedLink, next.AppliedSlot = nil, nil
	if err := e.ledger.Update(ctx, &next); err != nil {
		return nil, err
	}
	if err := e.revert(ctx, cur); err != nil {
		e.emit(notify.AssignmentEvent(notify.AssignmentCreated, &next))
		return &next, err
	}

	applyErr := e.applyTo(ctx, &next, m)
	e.emit(notify.AssignmentEvent(notify.AssignmentCreated, &next))
	return &next, applyErr
}

// SetAcquired flips a base-item flag and announces it when it changed.
func (e *Engine) SetAcquired(ctx context.Context, k acquisition.Key, value bool) (bool, error) {
	changed, err := e.states.SetAcquired(ctx, k, value)
	if err == nil && changed {
		e.acquisitionChanged(k)
	}
	return changed, err
}

// SetUpgradeMaterialAcquired flips a material flag and announces it when it
// changed.
func (e *Engine) SetUpgradeMaterialAcquired(ctx context.Context, k acquisition.Key, value bool) (bool, error) {
	changed, err := e.states.SetUpgradeMaterialAcquired(ctx, k, value)
	if err == nil && changed {
		e.acquisitionChanged(k)
	}
	return changed, err
}

// DeleteWeek removes a week with its assignments and announces each removed
// assignment. Acquisition flags are left as they are.
func (e *Engine) DeleteWeek(ctx context.Context, n int) ([]model.LootAssignment, error) {
	removed, err := e.weeks.Delete(ctx, n)
	if err != nil {
		return nil, err
	}
	e.metrics.AssignmentRemoved(len(removed))
	for i := range removed {
		e.emit(notify.AssignmentEvent(notify.AssignmentRemoved, &removed[i]))
	}
	return removed, nil
}

// applyTo marks the acquisition row an assignment completes and records it
// on the assignment. Nothing is recorded when no flag actually changed, so a
// later undo leaves pre-existing state alone.
func (e *Engine) applyTo(ctx context.Context, a *model.LootAssignment, m *model.Member) error {
	if !a.SpecType.IsGearSet() {
		return nil
	}
	set := *m.Spec(a.SpecType)
	link := model.LinkKey(set.Link)
	target := a.Target()

	states, _, err := e.states.CurrentStates(ctx, m.ID, a.SpecType)
	if err != nil {
		return err
	}
	slot, ok := eligibility.Need(set, states, target)
	if !ok {
		return nil
	}

	k := acquisition.Key{MemberID: m.ID, Spec: a.SpecType, Link: link, Slot: slot}
	var changed bool
	if target.IsMaterial() {
		changed, err = e.states.SetUpgradeMaterialAcquired(ctx, k, true)
	} else {
		changed, err = e.states.SetAcquired(ctx, k, true)
	}
	if err != nil || !changed {
		return err
	}
	e.metrics.AcquisitionChanged(string(a.SpecType))

	if err := e.ledger.SetApplied(ctx, a.ID, &link, &slot); err != nil {
		return err
	}
	a.AppliedLink, a.AppliedSlot = &link, &slot
	return nil
}

// revert clears the flag recorded on a. A recipient who has since been
// removed from the roster has no rows left to clear.
func (e *Engine) revert(ctx context.Context, a *model.LootAssignment) error {
	if a.AppliedSlot == nil || !a.SpecType.IsGearSet() {
		return nil
	}
	k := acquisition.Key{
		MemberID: a.MemberID,
		Spec:     a.SpecType,
		Link:     model.LinkKey(a.AppliedLink),
		Slot:     *a.AppliedSlot,
	}
	var (
		changed bool
		err     error
	)
	if a.Target().IsMaterial() {
		changed, err = e.states.SetUpgradeMaterialAcquired(ctx, k, false)
	} else {
		changed, err = e.states.SetAcquired(ctx, k, false)
	}
	if errors.Is(err, raid.ErrNotFound) {
		e.logger.Debug("skip acquisition revert, row gone", zap.String("assignment_id", a.ID))
		return nil
	}
	if err == nil && changed {
		e.metrics.AcquisitionChanged(string(a.SpecType))
	}
	return err
}

func (e *Engine) acquisitionChanged(k acquisition.Key) {
	e.metrics.AcquisitionChanged(string(k.Spec))
	slot, link := k.Slot, k.Link
	e.emit(notify.Event{
		Kind:     notify.AcquisitionChanged,
		MemberID: k.MemberID,
		Slot:     &slot,
		SpecType: k.Spec,
		Link:     &link,
	})
}

func (e *Engine) emit(ev notify.Event) {
	if e.notifier != nil {
		e.notifier.Emit(ev)
	}
}

// Totals counts members, weeks and stored assignments.
func (e *Engine) Totals(ctx context.Context) (members, weeks, assignments int64, err error) {
	if members, err = e.members.Count(ctx); err != nil {
		return 0, 0, 0, err
	}
	ws, err := e.weeks.List(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	if assignments, err = e.ledger.Count(ctx); err != nil {
		return 0, 0, 0, err
	}
	return members, int64(len(ws)), assignments, nil
}
