package stats

import "github.com/kasuganosora/itemledger/model"

type Health string

const (
	HealthDeveloping   Health = "developing"
	HealthScarce       Health = "scarce"
	HealthHealthy      Health = "healthy"
	HealthOversupplied Health = "oversupplied"
)

// HealthPolicy holds the thresholds used by Classify. Rules are checked in
// order: scarce, healthy, oversupplied, otherwise developing.
type HealthPolicy struct {
	ScarceMaxCirculation       float64
	ScarceMinDestruction       float64
	HealthyMinOwners           int64
	HealthyMinCirculation      float64
	OversuppliedMinCirculation float64
	OversuppliedMaxDestruction float64
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		ScarceMaxCirculation:       0.3,
		ScarceMinDestruction:       0.5,
		HealthyMinOwners:           10,
		HealthyMinCirculation:      0.5,
		OversuppliedMinCirculation: 0.8,
		OversuppliedMaxDestruction: 0.1,
	}
}

// Ratios returns the circulation and destruction ratios of s, both 0 when
// nothing of the item exists yet.
func Ratios(s model.ItemSupply) (circulation, destruction float64) {
	if s.Total <= 0 {
		return 0, 0
	}
	return float64(s.InCirculation) / float64(s.Total), float64(s.Destroyed) / float64(s.Total)
}

func (p HealthPolicy) Classify(s model.ItemSupply, owners int64) Health {
	if s.Total <= 0 {
		return HealthDeveloping
	}
	circ, destr := Ratios(s)
	switch {
	case circ < p.ScarceMaxCirculation && destr > p.ScarceMinDestruction:
		return HealthScarce
	case owners >= p.HealthyMinOwners && circ >= p.HealthyMinCirculation:
		return HealthHealthy
	case circ > p.OversuppliedMinCirculation && destr < p.OversuppliedMaxDestruction:
		return HealthOversupplied
	}
	return HealthDeveloping
}
