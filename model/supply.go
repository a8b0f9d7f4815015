package model

import "time"

// ItemSupply is the aggregate supply row of one item.
// Invariant: Total == InCirculation + InWorld + Destroyed, every field >= 0.
type ItemSupply struct {
	ItemID        string    `gorm:"primaryKey;size:64" json:"item_id"`
	Total         int64     `gorm:"not null;default:0" json:"total"`
	InCirculation int64     `gorm:"not null;default:0" json:"in_circulation"`
	InWorld       int64     `gorm:"not null;default:0" json:"in_world"`
	Destroyed     int64     `gorm:"not null;default:0" json:"destroyed"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Conserved reports whether the row satisfies the conservation invariant.
func (s ItemSupply) Conserved() bool {
	if s.Total < 0 || s.InCirculation < 0 || s.InWorld < 0 || s.Destroyed < 0 {
		return false
	}
	return s.Total == s.InCirculation+s.InWorld+s.Destroyed
}
