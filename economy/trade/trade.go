// Package trade moves units between two players. A trade never changes
// supply figures: the units stay in circulation.
package trade

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kasuganosora/itemledger/audit"
	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/inventory"
	"github.com/kasuganosora/itemledger/economy/registry"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Request struct {
	ItemID       string `json:"item_id"`
	Quantity     int64  `json:"quantity"`
	SellerID     string `json:"seller_id"`
	BuyerID      string `json:"buyer_id"`
	PricePerItem int64  `json:"price_per_item"`
}

func (r Request) validate() error {
	switch {
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", economy.ErrInvalidTrade, r.Quantity)
	case r.PricePerItem < 0:
		return fmt.Errorf("%w: negative price", economy.ErrInvalidTrade)
	case r.PricePerItem > 0 && r.Quantity > math.MaxInt64/r.PricePerItem:
		return fmt.Errorf("%w: total price overflows", economy.ErrInvalidTrade)
	case r.SellerID == "" || r.BuyerID == "":
		return fmt.Errorf("%w: missing party", economy.ErrInvalidTrade)
	case r.SellerID == r.BuyerID:
		return fmt.Errorf("%w: %s trading with themselves", economy.ErrInvalidTrade, r.SellerID)
	}
	return nil
}

// Service executes trades. Concurrent trades between the same two players
// are serialized with a cache lock on the ordered pair.
type Service struct {
	db     *gorm.DB
	audit  *audit.Recorder
	locker *cache.Locker
	sink   economy.Sink
	clock  economy.Clock
	logger *zap.Logger
}

// New creates a Service. locker may be nil to rely on the database alone.
func New(db *gorm.DB, rec *audit.Recorder, locker *cache.Locker, sink economy.Sink, logger *zap.Logger) *Service {
	if sink == nil {
		sink = economy.NopSink{}
	}
	return &Service{db: db, audit: rec, locker: locker, sink: sink, clock: economy.SystemClock, logger: logger}
}

// WithClock swaps the time source, for tests.
func (s *Service) WithClock(clock economy.Clock) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// PairLockKey is the lock both directions of a trade between a and b share.
func PairLockKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "lock:trade:" + a + "_" + b
}

// Trade debits the seller and credits the buyer in one transaction and
// appends a trade record. Either every part happens or none does.
func (s *Service) Trade(ctx context.Context, req Request) (*model.TradeRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, PairLockKey(req.SellerID, req.BuyerID))
		if errors.Is(err, cache.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: trade %s/%s", economy.ErrLockContended, req.SellerID, req.BuyerID)
		}
		if err != nil {
			return nil, fmt.Errorf("trade: lock: %w", err)
		}
		defer release()
	}

	var rec *model.TradeRecord
	err := economy.RunTx(ctx, s.db, s.clock(), func(tx *economy.Tx) error {
		def, err := registry.GetTx(tx, req.ItemID)
		if err != nil {
			return err
		}
		if !def.Tradeable {
			return fmt.Errorf("%w: %s", economy.ErrItemNotTradeable, req.ItemID)
		}

		sellerLeft, err := inventory.DebitTx(tx, req.SellerID, req.ItemID, req.Quantity)
		if err != nil {
			return err
		}
		buyerHas, err := inventory.CreditTx(tx, req.BuyerID, req.ItemID, req.Quantity, "trade")
		if err != nil {
			return err
		}

		rec = &model.TradeRecord{
			ItemID:       req.ItemID,
			Quantity:     req.Quantity,
			SellerID:     req.SellerID,
			BuyerID:      req.BuyerID,
			PricePerItem: req.PricePerItem,
			TotalPrice:   req.PricePerItem * req.Quantity,
		}
		if err := s.audit.RecordTrade(tx, rec); err != nil {
			return err
		}

		tx.Emit(s.sink, economy.Event{
			Type:         economy.EventItemTraded,
			ItemID:       req.ItemID,
			Quantity:     req.Quantity,
			PlayerID:     req.SellerID,
			Counterparty: req.BuyerID,
		})
		tx.Emit(s.sink, inventory.Updated(req.SellerID, req.ItemID, -req.Quantity, sellerLeft))
		tx.Emit(s.sink, inventory.Updated(req.BuyerID, req.ItemID, req.Quantity, buyerHas))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("trade completed",
		zap.String("item_id", req.ItemID),
		zap.Int64("quantity", req.Quantity),
		zap.String("seller", req.SellerID),
		zap.String("buyer", req.BuyerID),
		zap.Int64("total_price", rec.TotalPrice))
	return rec, nil
}
