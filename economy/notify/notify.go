// Package notify provides economy.Sink implementations that forward ledger
// events to pub/sub channels and to the log.
package notify

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/economy"
	"go.uber.org/zap"
)

// ChannelPrefix prefixes every pub/sub channel; an itemTraded event goes to
// "economy.itemTraded".
const ChannelPrefix = "economy."

func Channel(t economy.EventType) string { return ChannelPrefix + string(t) }

// Channels lists the channel of every event type.
func Channels() []string {
	types := []economy.EventType{
		economy.EventItemGenerated,
		economy.EventItemDropped,
		economy.EventItemPickedUp,
		economy.EventInventoryUpdated,
		economy.EventItemTraded,
		economy.EventItemDespawned,
		economy.EventItemDestroyed,
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = Channel(t)
	}
	return out
}

// PubSubSink publishes each event as JSON. Publish failures are logged and
// swallowed; the mutation has already committed.
type PubSubSink struct {
	ps     cache.PubSub
	logger *zap.Logger
}

func NewPubSubSink(ps cache.PubSub, logger *zap.Logger) *PubSubSink {
	return &PubSubSink{ps: ps, logger: logger}
}

func (s *PubSubSink) Emit(ctx context.Context, ev economy.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event marshal failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := s.ps.Publish(context.WithoutCancel(ctx), Channel(ev.Type), string(payload)); err != nil {
		s.logger.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// LogSink writes every event to the logger at debug level.
type LogSink struct{ logger *zap.Logger }

func NewLogSink(logger *zap.Logger) *LogSink { return &LogSink{logger: logger} }

func (s *LogSink) Emit(_ context.Context, ev economy.Event) {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.String("item_id", ev.ItemID),
		zap.Int64("quantity", ev.Quantity),
		zap.Time("at", ev.At),
	}
	if ev.PlayerID != "" {
		fields = append(fields, zap.String("player_id", ev.PlayerID))
	}
	if ev.Counterparty != "" {
		fields = append(fields, zap.String("counterparty", ev.Counterparty))
	}
	if ev.WorldItemID != "" {
		fields = append(fields, zap.String("world_item_id", ev.WorldItemID))
	}
	if ev.Type == economy.EventInventoryUpdated {
		fields = append(fields, zap.Int64("holding", ev.Holding))
	}
	s.logger.Debug("economy event", fields...)
}

// Multi fans every event out to each sink in order.
type Multi []economy.Sink

func (m Multi) Emit(ctx context.Context, ev economy.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
