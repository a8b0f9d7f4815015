package economy

import "github.com/kasuganosora/itemledger/model"

// Delta is a signed change to one item's supply row.
type Delta struct {
	Total         int64 `json:"total"`
	InCirculation int64 `json:"in_circulation"`
	InWorld       int64 `json:"in_world"`
	Destroyed     int64 `json:"destroyed"`
}

// Balanced reports whether the delta preserves total == sum of the parts.
func (d Delta) Balanced() bool {
	return d.Total == d.InCirculation+d.InWorld+d.Destroyed
}

// Zero reports whether the delta changes nothing.
func (d Delta) Zero() bool {
	return d == Delta{}
}

// Apply returns s with d added.
func (d Delta) Apply(s model.ItemSupply) model.ItemSupply {
	s.Total += d.Total
	s.InCirculation += d.InCirculation
	s.InWorld += d.InWorld
	s.Destroyed += d.Destroyed
	return s
}

// The deltas every ledger event maps to.

func GenerateDelta(q int64) Delta { return Delta{Total: q, InWorld: q} }
func PickupDelta(q int64) Delta   { return Delta{InWorld: -q, InCirculation: q} }
func DropDelta(q int64) Delta     { return Delta{InCirculation: -q, InWorld: q} }
func DespawnDelta(q int64) Delta  { return Delta{InWorld: -q, Destroyed: q} }
func DestroyDelta(q int64) Delta  { return Delta{InCirculation: -q, Destroyed: q} }
