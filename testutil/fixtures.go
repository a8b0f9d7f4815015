package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SeedItem inserts a definition and its zeroed supply row.
func SeedItem(t testing.TB, db *gorm.DB, id string, tradeable bool) {
	t.Helper()
	require.NoError(t, db.Create(&model.ItemDefinition{
		ID: id, Name: id, Category: model.CategoryMisc, MaxStack: 1, Tradeable: tradeable,
	}).Error)
	require.NoError(t, db.Create(&model.ItemSupply{ItemID: id}).Error)
}

// Supply reads the stored supply row of id.
func Supply(t testing.TB, db *gorm.DB, id string) model.ItemSupply {
	t.Helper()
	var s model.ItemSupply
	require.NoError(t, db.Where("item_id = ?", id).Take(&s).Error)
	return s
}

// EventRecorder is an economy.Sink that keeps every event it receives.
type EventRecorder struct {
	mu     sync.Mutex
	events []economy.Event
}

func (r *EventRecorder) Emit(_ context.Context, ev economy.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything received so far.
func (r *EventRecorder) Events() []economy.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]economy.Event(nil), r.events...)
}

// Types returns the received event types in order.
func (r *EventRecorder) Types() []economy.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]economy.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
