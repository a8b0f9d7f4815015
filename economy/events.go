package economy

import (
	"context"
	"time"

	"github.com/kasuganosora/itemledger/model"
)

// EventType names an outbound notification.
type EventType string

const (
	EventItemGenerated    EventType = "itemGenerated"
	EventItemDropped      EventType = "itemDropped"
	EventItemPickedUp     EventType = "itemPickedUp"
	EventInventoryUpdated EventType = "inventoryUpdated"
	EventItemTraded       EventType = "itemTraded"
	EventItemDespawned    EventType = "itemDespawned"
	EventItemDestroyed    EventType = "itemDestroyed"
)

// Event is emitted after a mutation has committed.
type Event struct {
	Type         EventType       `json:"type"`
	ItemID       string          `json:"item_id"`
	Quantity     int64           `json:"quantity"`
	PlayerID     string          `json:"player_id,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	WorldItemID  string          `json:"world_item_id,omitempty"`
	Location     *model.Location `json:"location,omitempty"`
	// Holding is the player's quantity after an inventoryUpdated event.
	Holding int64     `json:"holding,omitempty"`
	At      time.Time `json:"at"`
}

// Sink receives ledger notifications. Implementations must not block for
// long; they run on the caller's goroutine right after commit.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
