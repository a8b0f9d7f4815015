package model

import "time"

// InventoryEntry is one (player, item) holding. Quantity is always > 0; the
// row is deleted when it would reach zero.
type InventoryEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID     string    `gorm:"size:64;not null;uniqueIndex:idx_player_item,priority:1" json:"player_id"`
	ItemID       string    `gorm:"size:64;not null;uniqueIndex:idx_player_item,priority:2;index:idx_inventory_item" json:"item_id"`
	Quantity     int64     `gorm:"not null" json:"quantity"`
	ObtainedFrom string    `gorm:"size:32" json:"obtained_from"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
