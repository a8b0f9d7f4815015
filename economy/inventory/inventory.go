// Package inventory stores per-player item holdings. A holding row exists
// only while its quantity is positive.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/itemledger/audit"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/registry"
	"github.com/kasuganosora/itemledger/economy/supply"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Store struct {
	db     *gorm.DB
	supply *supply.Ledger
	audit  *audit.Recorder
	sink   economy.Sink
	clock  economy.Clock
	logger *zap.Logger
}

func New(db *gorm.DB, sup *supply.Ledger, rec *audit.Recorder, sink economy.Sink, logger *zap.Logger) *Store {
	if sink == nil {
		sink = economy.NopSink{}
	}
	return &Store{db: db, supply: sup, audit: rec, sink: sink, clock: economy.SystemClock, logger: logger}
}

// WithClock swaps the time source, for tests.
func (s *Store) WithClock(clock economy.Clock) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// CreditTx adds quantity of itemID to playerID inside tx, creating the row if
// needed, and returns the new holding. It only rejects unregistered items
// and non-positive quantities.
func CreditTx(tx *economy.Tx, playerID, itemID string, quantity int64, source string) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: credit %d", economy.ErrInvalidQuantity, quantity)
	}
	if err := registry.ExistsTx(tx, itemID); err != nil {
		return 0, err
	}

	added, err := increment(tx, playerID, itemID, quantity, source)
	if err != nil {
		return 0, err
	}
	if !added {
		entry := &model.InventoryEntry{
			PlayerID:     playerID,
			ItemID:       itemID,
			Quantity:     quantity,
			ObtainedFrom: source,
			CreatedAt:    tx.Now,
			UpdatedAt:    tx.Now,
		}
		err := tx.DB.Create(entry).Error
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// Lost a create race to a concurrent credit; the row exists now.
			if added, err = increment(tx, playerID, itemID, quantity, source); err != nil {
				return 0, err
			}
			if !added {
				return 0, fmt.Errorf("inventory: credit %s/%s: row vanished", playerID, itemID)
			}
		case err != nil:
			return 0, fmt.Errorf("inventory: credit %s/%s: %w", playerID, itemID, err)
		}
	}
	return quantityOf(tx.DB, playerID, itemID)
}

func increment(tx *economy.Tx, playerID, itemID string, quantity int64, source string) (bool, error) {
	res := tx.DB.Model(&model.InventoryEntry{}).
		Where("player_id = ? AND item_id = ?", playerID, itemID).
		Updates(map[string]interface{}{
			"quantity":      gorm.Expr("quantity + ?", quantity),
			"obtained_from": source,
			"updated_at":    tx.Now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("inventory: credit %s/%s: %w", playerID, itemID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DebitTx removes quantity of itemID from playerID inside tx and returns the
// remaining holding. It never clamps: a short holding fails with
// ErrInsufficientQuantity and nothing changes.
func DebitTx(tx *economy.Tx, playerID, itemID string, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: debit %d", economy.ErrInvalidQuantity, quantity)
	}
	res := tx.DB.Model(&model.InventoryEntry{}).
		Where("player_id = ? AND item_id = ? AND quantity >= ?", playerID, itemID, quantity).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity - ?", quantity),
			"updated_at": tx.Now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("inventory: debit %s/%s: %w", playerID, itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		have, err := quantityOf(tx.DB, playerID, itemID)
		if err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s holds %d %s, needs %d",
			economy.ErrInsufficientQuantity, playerID, have, itemID, quantity)
	}
	err := tx.DB.Where("player_id = ? AND item_id = ? AND quantity <= 0", playerID, itemID).
		Delete(&model.InventoryEntry{}).Error
	if err != nil {
		return 0, fmt.Errorf("inventory: debit %s/%s: %w", playerID, itemID, err)
	}
	return quantityOf(tx.DB, playerID, itemID)
}

func quantityOf(db *gorm.DB, playerID, itemID string) (int64, error) {
	var q int64
	err := db.Model(&model.InventoryEntry{}).
		Where("player_id = ? AND item_id = ?", playerID, itemID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&q).Error
	if err != nil {
		return 0, fmt.Errorf("inventory: read %s/%s: %w", playerID, itemID, err)
	}
	return q, nil
}

// Updated builds the inventoryUpdated event for a holding change.
func Updated(playerID, itemID string, change, holding int64) economy.Event {
	return economy.Event{
		Type:     economy.EventInventoryUpdated,
		ItemID:   itemID,
		PlayerID: playerID,
		Quantity: change,
		Holding:  holding,
	}
}

// Credit is CreditTx in its own transaction. It moves units between holdings
// only; supply figures are the caller's responsibility.
func (s *Store) Credit(ctx context.Context, playerID, itemID string, quantity int64, source string) (int64, error) {
	var holding int64
	err := economy.RunTx(ctx, s.db, s.clock(), func(tx *economy.Tx) error {
		h, err := CreditTx(tx, playerID, itemID, quantity, source)
		if err != nil {
			return err
		}
		holding = h
		tx.Emit(s.sink, Updated(playerID, itemID, quantity, h))
		return nil
	})
	return holding, err
}

// Debit is DebitTx in its own transaction.
func (s *Store) Debit(ctx context.Context, playerID, itemID string, quantity int64) (int64, error) {
	var holding int64
	err := economy.RunTx(ctx, s.db, s.clock(), func(tx *economy.Tx) error {
		h, err := DebitTx(tx, playerID, itemID, quantity)
		if err != nil {
			return err
		}
		holding = h
		tx.Emit(s.sink, Updated(playerID, itemID, -quantity, h))
		return nil
	})
	return holding, err
}

// DestroyRequest removes units from a player's holding for good.
type DestroyRequest struct {
	PlayerID string
	ItemID   string
	Quantity int64
	Type     string // consumed | destroyed; empty means destroyed
	Reason   string
}

// Destroy debits the holding, moves the units from circulation to destroyed
// and appends a destruction record, all in one transaction.
func (s *Store) Destroy(ctx context.Context, req DestroyRequest) (int64, error) {
	switch req.Type {
	case "":
		req.Type = model.DestructionDestroyed
	case model.DestructionConsumed, model.DestructionDestroyed:
	default:
		return 0, fmt.Errorf("%w: destruction type %q", economy.ErrInvalidRequest, req.Type)
	}

	var holding int64
	err := economy.RunTx(ctx, s.db, s.clock(), func(tx *economy.Tx) error {
		if err := registry.ExistsTx(tx, req.ItemID); err != nil {
			return err
		}
		h, err := DebitTx(tx, req.PlayerID, req.ItemID, req.Quantity)
		if err != nil {
			return err
		}
		if _, err := s.supply.ApplyDelta(tx, req.ItemID, economy.DestroyDelta(req.Quantity)); err != nil {
			return err
		}
		if err := s.audit.RecordDestruction(tx, &model.DestructionRecord{
			ItemID:   req.ItemID,
			Quantity: req.Quantity,
			Type:     req.Type,
			PlayerID: req.PlayerID,
			Reason:   req.Reason,
		}); err != nil {
			return err
		}
		holding = h
		tx.Emit(s.sink, economy.Event{
			Type:     economy.EventItemDestroyed,
			ItemID:   req.ItemID,
			Quantity: req.Quantity,
			PlayerID: req.PlayerID,
		})
		tx.Emit(s.sink, Updated(req.PlayerID, req.ItemID, -req.Quantity, h))
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("items destroyed",
		zap.String("player_id", req.PlayerID),
		zap.String("item_id", req.ItemID),
		zap.Int64("quantity", req.Quantity),
		zap.String("type", req.Type))
	return holding, nil
}

// QuantityOf returns what playerID holds of itemID; 0 when nothing.
func (s *Store) QuantityOf(ctx context.Context, playerID, itemID string) (int64, error) {
	return quantityOf(s.db.WithContext(ctx), playerID, itemID)
}

// List returns every holding of playerID ordered by item id.
func (s *Store) List(ctx context.Context, playerID string) ([]model.InventoryEntry, error) {
	var out []model.InventoryEntry
	err := s.db.WithContext(ctx).Where("player_id = ?", playerID).Order("item_id").Find(&out).Error
	return out, err
}

// Owners counts the distinct players holding itemID.
func (s *Store) Owners(ctx context.Context, itemID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.InventoryEntry{}).
		Where("item_id = ? AND quantity > 0", itemID).
		Distinct("player_id").Count(&n).Error
	return n, err
}
