// Package eligibility decides which members still need a drop and which
// spec bucket the drop belongs to. It filters and classifies; choosing among
// several candidates is left to the operator.
package eligibility

import (
	"context"
	"fmt"

	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"github.com/kasuganosora/raidloot/server/raid/acquisition"
)

// Drop describes a lootable unit. SpecHint may be empty.
type Drop struct {
	Floor    int            `json:"floor"`
	Target   model.Target   `json:"target"`
	SpecHint model.SpecType `json:"spec_hint,omitempty"`
}

// Candidate is a member who may receive a drop. Slot is the BiS slot the drop
// would complete; it is nil for Extra candidates.
type Candidate struct {
	MemberID string      `json:"member_id"`
	Name     string      `json:"name"`
	Role     model.Role  `json:"role"`
	Slot     *model.Slot `json:"slot,omitempty"`
}

// Result is the classified candidate set. Candidates is the list for Bucket;
// MainSpec and OffSpec always carry the full need lists.
type Result struct {
	Bucket     model.SpecType `json:"bucket"`
	Candidates []Candidate    `json:"candidates"`
	MainSpec   []Candidate    `json:"main_spec"`
	OffSpec    []Candidate    `json:"off_spec"`
}

type Members interface {
	List(ctx context.Context) ([]*model.Member, error)
}

type States interface {
	ListAll(ctx context.Context) ([]model.AcquisitionState, error)
}

type Resolver struct {
	members Members
	states  States
	floors  int
}

// NewResolver builds a resolver for a tier with the given number of floors.
func NewResolver(members Members, states States, floors int) *Resolver {
	return &Resolver{members: members, states: states, floors: floors}
}

func (r *Resolver) Resolve(ctx context.Context, d Drop) (*Result, error) {
	if err := raid.ValidateTarget(d.Target); err != nil {
		return nil, err
	}
	if r.floors > 0 {
		if err := raid.ValidateFloor(d.Floor, r.floors); err != nil {
			return nil, err
		}
	}
	if d.SpecHint != "" {
		if err := raid.ValidateBucket(d.SpecHint); err != nil {
			return nil, err
		}
	}

	members, err := r.members.List(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.states.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[acquisition.Key]acquisition.State, len(rows))
	for _, s := range rows {
		index[acquisition.Key{MemberID: s.MemberID, Spec: s.SpecType, Link: s.Link, Slot: s.Slot}] = acquisition.State{
			IsAcquired:              s.IsAcquired,
			UpgradeMaterialAcquired: s.UpgradeMaterialAcquired,
		}
	}

	res := &Result{MainSpec: []Candidate{}, OffSpec: []Candidate{}}
	for _, m := range members {
		for _, spec := range []model.SpecType{model.SpecMain, model.SpecOff} {
			states := CurrentStates(m, spec, index)
			slot, ok := Need(*m.Spec(spec), states, d.Target)
			if !ok {
				continue
			}
			c := Candidate{MemberID: m.ID, Name: m.Name, Role: m.Role, Slot: &slot}
			if spec == model.SpecMain {
				res.MainSpec = append(res.MainSpec, c)
			} else {
				res.OffSpec = append(res.OffSpec, c)
			}
		}
	}

	switch d.SpecHint {
	case model.SpecExtra:
		res.extra(members)
	case model.SpecOff:
		switch {
		case len(res.OffSpec) > 0:
			res.Bucket, res.Candidates = model.SpecOff, res.OffSpec
		case len(res.MainSpec) > 0:
			// Off-spec routing was asked for but only main-spec need exists.
			res.Bucket, res.Candidates = model.SpecOff, []Candidate{}
		default:
			res.extra(members)
		}
	default:
		switch {
		case len(res.MainSpec) > 0:
			res.Bucket, res.Candidates = model.SpecMain, res.MainSpec
		case len(res.OffSpec) > 0:
			res.Bucket, res.Candidates = model.SpecOff, res.OffSpec
		default:
			res.extra(members)
		}
	}
	return res, nil
}

func (res *Result) extra(members []*model.Member) {
	res.Bucket = model.SpecExtra
	res.Candidates = make([]Candidate, 0, len(members))
	for _, m := range members {
		res.Candidates = append(res.Candidates, Candidate{MemberID: m.ID, Name: m.Name, Role: m.Role})
	}
}

// CurrentStates picks the member's rows for that spec set's current link out of
// an index of all rows.
func CurrentStates(m *model.Member, spec model.SpecType, index map[acquisition.Key]acquisition.State) map[model.Slot]acquisition.State {
	link := model.LinkKey(m.Spec(spec).Link)
	out := make(map[model.Slot]acquisition.State)
	for _, slot := range model.AllSlots {
		if st, ok := index[acquisition.Key{MemberID: m.ID, Spec: spec, Link: link, Slot: slot}]; ok {
			out[slot] = st
		}
	}
	return out
}

// Need reports whether a BiS set still needs target, and which slot the drop
// would complete. A gear drop is needed when the set wants the raid piece for
// that slot and it is not acquired. A material drop is needed by the first
// slot of its category, in slot order, whose upgrade is still missing.
func Need(set model.BisSet, states map[model.Slot]acquisition.State, target model.Target) (model.Slot, bool) {
	if target.Slot != nil {
		item, ok := set.Item(*target.Slot)
		if !ok || item.Kind != model.ItemKindRaid {
			return "", false
		}
		return *target.Slot, !states[*target.Slot].IsAcquired
	}
	for _, slot := range model.AllSlots {
		if !materialFits(target, slot) {
			continue
		}
		item, ok := set.Item(slot)
		if !ok || !item.RequiresUpgrade {
			continue
		}
		if !states[slot].UpgradeMaterialAcquired {
			return slot, true
		}
	}
	return "", false
}

// materialFits reports whether a material target upgrades slot. Armor
// material serves the armor slots, upgrade material the weapon and
// accessories.
func materialFits(target model.Target, slot model.Slot) bool {
	switch {
	case target.IsArmorMaterial:
		return slot.IsArmor()
	case target.IsUpgradeMaterial:
		return slot == model.SlotWeapon || slot.IsAccessory()
	}
	return false
}

func (c Candidate) String() string {
	if c.Slot == nil {
		return c.Name
	}
	return fmt.Sprintf("%s (%s)", c.Name, *c.Slot)
}
