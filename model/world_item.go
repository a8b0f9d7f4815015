package model

import "time"

// World item states. Dropped is the only non-terminal state.
const (
	WorldItemDropped   = "dropped"
	WorldItemPickedUp  = "picked_up"
	WorldItemDespawned = "despawned"
)

// Origins of a world item.
const (
	OriginGenerated  = "generated"
	OriginPlayerDrop = "player_drop"
)

// Location is an in-world coordinate.
type Location struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Plane int `json:"plane"`
}

// WorldItem is an unowned, location-tagged stack waiting for pickup or despawn.
type WorldItem struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	ItemID     string     `gorm:"size:64;not null;index:idx_world_item" json:"item_id"`
	Quantity   int64      `gorm:"not null" json:"quantity"`
	Location   Location   `gorm:"embedded;embeddedPrefix:loc_" json:"location"`
	Origin     string     `gorm:"size:16;not null" json:"origin"`
	DroppedBy  string     `gorm:"size:64" json:"dropped_by"`
	DroppedAt  time.Time  `gorm:"not null" json:"dropped_at"`
	DespawnAt  time.Time  `gorm:"not null;index:idx_world_state_despawn,priority:2" json:"despawn_at"`
	State      string     `gorm:"size:16;not null;index:idx_world_state_despawn,priority:1" json:"state"`
	PickedUpBy string     `gorm:"size:64" json:"picked_up_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
