// Package supply keeps the per-item aggregate supply rows. ApplyDelta is the
// only write path; every other component goes through it.
package supply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Ledger struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Ledger. c may be nil to disable caching.
func New(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Ledger {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Ledger{db: db, cache: c, ttl: ttl, logger: logger}
}

func cacheKey(itemID string) string { return "item:supply:" + itemID }

// ApplyDelta adds d to the supply row of itemID inside tx and returns the
// updated row. A delta that is unbalanced or that would drive any field
// below zero fails with *economy.InvariantError and leaves the row alone;
// the caller's transaction must then roll back.
func (l *Ledger) ApplyDelta(tx *economy.Tx, itemID string, d economy.Delta) (model.ItemSupply, error) {
	if !d.Balanced() {
		before, _ := l.read(tx, itemID)
		return model.ItemSupply{}, l.violation(itemID, before, d, "unbalanced delta")
	}

	res := tx.DB.Model(&model.ItemSupply{}).
		Where("item_id = ?", itemID).
		Where("total + ? >= 0 AND in_circulation + ? >= 0 AND in_world + ? >= 0 AND destroyed + ? >= 0",
			d.Total, d.InCirculation, d.InWorld, d.Destroyed).
		Updates(map[string]interface{}{
			"total":          gorm.Expr("total + ?", d.Total),
			"in_circulation": gorm.Expr("in_circulation + ?", d.InCirculation),
			"in_world":       gorm.Expr("in_world + ?", d.InWorld),
			"destroyed":      gorm.Expr("destroyed + ?", d.Destroyed),
			"updated_at":     tx.Now,
		})
	if res.Error != nil {
		return model.ItemSupply{}, fmt.Errorf("supply: update %s: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		before, err := l.read(tx, itemID)
		if err != nil {
			return model.ItemSupply{}, err
		}
		return model.ItemSupply{}, l.violation(itemID, before, d, "delta would drive a field negative")
	}

	after, err := l.read(tx, itemID)
	if err != nil {
		return model.ItemSupply{}, err
	}
	if !after.Conserved() {
		before := economy.Delta{
			Total:         -d.Total,
			InCirculation: -d.InCirculation,
			InWorld:       -d.InWorld,
			Destroyed:     -d.Destroyed,
		}.Apply(after)
		return model.ItemSupply{}, l.violation(itemID, before, d, "stored row not conserved")
	}

	tx.AfterCommit(func() { l.invalidate(tx.Ctx, itemID) })
	return after, nil
}

func (l *Ledger) read(tx *economy.Tx, itemID string) (model.ItemSupply, error) {
	var s model.ItemSupply
	err := tx.DB.Where("item_id = ?", itemID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s, fmt.Errorf("%w: %s", economy.ErrItemNotRegistered, itemID)
	}
	if err != nil {
		return s, fmt.Errorf("supply: read %s: %w", itemID, err)
	}
	return s, nil
}

func (l *Ledger) violation(itemID string, before model.ItemSupply, d economy.Delta, reason string) error {
	err := &economy.InvariantError{ItemID: itemID, Before: before, Delta: d, Reason: reason}
	l.logger.Error("supply invariant violation",
		zap.String("item_id", itemID),
		zap.String("reason", reason),
		zap.Any("before", before),
		zap.Any("delta", d))
	return err
}

// Snapshot returns the current supply row of itemID.
func (l *Ledger) Snapshot(ctx context.Context, itemID string) (model.ItemSupply, error) {
	if s, ok := l.cached(ctx, itemID); ok {
		return s, nil
	}
	var s model.ItemSupply
	err := l.db.WithContext(ctx).Where("item_id = ?", itemID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s, fmt.Errorf("%w: %s", economy.ErrItemNotRegistered, itemID)
	}
	if err != nil {
		return s, fmt.Errorf("supply: snapshot %s: %w", itemID, err)
	}
	l.store(ctx, s)
	return s, nil
}

// All returns every supply row ordered by item id.
func (l *Ledger) All(ctx context.Context) ([]model.ItemSupply, error) {
	var rows []model.ItemSupply
	err := l.db.WithContext(ctx).Order("item_id").Find(&rows).Error
	return rows, err
}

func (l *Ledger) cached(ctx context.Context, itemID string) (model.ItemSupply, bool) {
	var s model.ItemSupply
	if l.cache == nil {
		return s, false
	}
	raw, err := l.cache.Get(ctx, cacheKey(itemID))
	if err != nil {
		if !cache.IsNotFound(err) {
			l.logger.Warn("supply cache read failed", zap.String("item_id", itemID), zap.Error(err))
		}
		return s, false
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, false
	}
	return s, true
}

func (l *Ledger) store(ctx context.Context, s model.ItemSupply) {
	if l.cache == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, cacheKey(s.ItemID), string(raw), l.ttl); err != nil {
		l.logger.Warn("supply cache write failed", zap.String("item_id", s.ItemID), zap.Error(err))
	}
}

func (l *Ledger) invalidate(ctx context.Context, itemID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Del(context.WithoutCancel(ctx), cacheKey(itemID)); err != nil {
		l.logger.Warn("supply cache invalidation failed", zap.String("item_id", itemID), zap.Error(err))
	}
}
