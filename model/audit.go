package model

import (
	"time"

	"gorm.io/datatypes"
)

// Destruction types.
const (
	DestructionDespawned = "despawned"
	DestructionConsumed  = "consumed"
	DestructionDestroyed = "destroyed"
)

// GenerationRecord explains why units of an item came into existence.
type GenerationRecord struct {
	ID                int64                        `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemID            string                       `gorm:"size:64;not null;index:idx_gen_item" json:"item_id"`
	Quantity          int64                        `gorm:"not null" json:"quantity"`
	Source            string                       `gorm:"size:32;not null" json:"source"`
	SourceID          string                       `gorm:"size:64" json:"source_id"`
	PlayerID          string                       `gorm:"size:64" json:"player_id"`
	AlgorithmSnapshot datatypes.JSON               `json:"algorithm_snapshot"`
	RNGValues         datatypes.JSONSlice[float64] `json:"rng_values"`
	Location          Location                     `gorm:"embedded;embeddedPrefix:loc_" json:"location"`
	WorldItemID       string                       `gorm:"size:36;index:idx_gen_world_item" json:"world_item_id"`
	CreatedAt         time.Time                    `gorm:"index:idx_gen_created" json:"created_at"`
}

// TradeRecord is one completed player-to-player transfer.
type TradeRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemID       string    `gorm:"size:64;not null;index:idx_trade_item" json:"item_id"`
	Quantity     int64     `gorm:"not null" json:"quantity"`
	SellerID     string    `gorm:"size:64;not null;index:idx_trade_seller" json:"seller_id"`
	BuyerID      string    `gorm:"size:64;not null;index:idx_trade_buyer" json:"buyer_id"`
	PricePerItem int64     `gorm:"not null" json:"price_per_item"`
	TotalPrice   int64     `gorm:"not null" json:"total_price"`
	CreatedAt    time.Time `gorm:"index:idx_trade_created" json:"created_at"`
}

// DestructionRecord explains why units of an item left circulation for good.
type DestructionRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemID      string    `gorm:"size:64;not null;index:idx_destruction_item" json:"item_id"`
	Quantity    int64     `gorm:"not null" json:"quantity"`
	Type        string    `gorm:"size:16;not null" json:"type"`
	WorldItemID string    `gorm:"size:36" json:"world_item_id,omitempty"`
	PlayerID    string    `gorm:"size:64" json:"player_id,omitempty"`
	Reason      string    `gorm:"size:128" json:"reason,omitempty"`
	CreatedAt   time.Time `gorm:"index:idx_destruction_created" json:"created_at"`
}
