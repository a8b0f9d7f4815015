// Package worlditem tracks unowned stacks lying in the world. A world item
// leaves the dropped state exactly once: picked up by a player or despawned
// by the sweep. Both transitions use the same conditional UPDATE on state,
// so whichever commits first wins and the other sees zero rows affected.
package worlditem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/itemledger/audit"
	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/inventory"
	"github.com/kasuganosora/itemledger/economy/registry"
	"github.com/kasuganosora/itemledger/economy/supply"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const sweepLockKey = "lock:despawn_sweep"

type Config struct {
	DespawnTTL    time.Duration
	BatchSize     int
	RowsPerSecond float64 // 0 = unlimited
}

type Store struct {
	db      *gorm.DB
	supply  *supply.Ledger
	audit   *audit.Recorder
	locker  *cache.Locker
	sink    economy.Sink
	cfg     Config
	limiter *rate.Limiter
	clock   economy.Clock
	logger  *zap.Logger
}

// New creates a Store. locker may be nil, in which case concurrent sweeps
// are not coordinated (they stay correct, only duplicate work).
func New(db *gorm.DB, sup *supply.Ledger, rec *audit.Recorder, locker *cache.Locker, sink economy.Sink, cfg Config, logger *zap.Logger) *Store {
	if cfg.DespawnTTL <= 0 {
		cfg.DespawnTTL = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if sink == nil {
		sink = economy.NopSink{}
	}
	s := &Store{
		db:     db,
		supply: sup,
		audit:  rec,
		locker: locker,
		sink:   sink,
		cfg:    cfg,
		clock:  economy.SystemClock,
		logger: logger,
	}
	if cfg.RowsPerSecond > 0 {
		burst := int(cfg.RowsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RowsPerSecond), burst)
	}
	return s
}

// WithClock swaps the time source, for tests.
func (s *Store) WithClock(clock economy.Clock) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Store) now() time.Time { return s.clock().UTC() }

func (s *Store) ttl(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return s.cfg.DespawnTTL
}

// GenerateRequest describes freshly created units placed in the world.
type GenerateRequest struct {
	ItemID            string
	Quantity          int64
	Source            string // e.g. boss_drop, skilling, quest_reward
	SourceID          string
	PlayerID          string
	AlgorithmSnapshot interface{} // stored as JSON
	RNGValues         []float64
	Location          model.Location
	TTL               time.Duration // 0 = configured despawn ttl
}

// Generate creates new units of an item as a dropped world stack and records
// why they exist.
func (s *Store) Generate(ctx context.Context, req GenerateRequest) (*model.WorldItem, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: generate %d", economy.ErrInvalidQuantity, req.Quantity)
	}
	if req.Source == "" {
		return nil, fmt.Errorf("%w: generate without source", economy.ErrInvalidRequest)
	}
	var snapshot datatypes.JSON
	if req.AlgorithmSnapshot != nil {
		raw, err := json.Marshal(req.AlgorithmSnapshot)
		if err != nil {
			return nil, fmt.Errorf("%w: algorithm snapshot: %v", economy.ErrInvalidRequest, err)
		}
		snapshot = raw
	}

	now := s.now()
	item := &model.WorldItem{
		ID:        uuid.NewString(),
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
		Location:  req.Location,
		Origin:    model.OriginGenerated,
		DroppedBy: req.PlayerID,
		DroppedAt: now,
		DespawnAt: now.Add(s.ttl(req.TTL)),
		State:     model.WorldItemDropped,
	}
	err := economy.RunTx(ctx, s.db, now, func(tx *economy.Tx) error {
		if err := registry.ExistsTx(tx, req.ItemID); err != nil {
			return err
		}
		if _, err := s.supply.ApplyDelta(tx, req.ItemID, economy.GenerateDelta(req.Quantity)); err != nil {
			return err
		}
		if err := tx.DB.Create(item).Error; err != nil {
			return fmt.Errorf("worlditem: create: %w", err)
		}
		if err := s.audit.RecordGeneration(tx, &model.GenerationRecord{
			ItemID:            req.ItemID,
			Quantity:          req.Quantity,
			Source:            req.Source,
			SourceID:          req.SourceID,
			PlayerID:          req.PlayerID,
			AlgorithmSnapshot: snapshot,
			RNGValues:         req.RNGValues,
			Location:          req.Location,
			WorldItemID:       item.ID,
		}); err != nil {
			return err
		}
		loc := item.Location
		tx.Emit(s.sink, economy.Event{
			Type:        economy.EventItemGenerated,
			ItemID:      item.ItemID,
			Quantity:    item.Quantity,
			PlayerID:    req.PlayerID,
			WorldItemID: item.ID,
			Location:    &loc,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("item generated",
		zap.String("item_id", item.ItemID),
		zap.Int64("quantity", item.Quantity),
		zap.String("source", req.Source),
		zap.String("world_item_id", item.ID))
	return item, nil
}

// DropRequest moves units from a player's holding onto the ground.
type DropRequest struct {
	ItemID    string
	Quantity  int64
	DroppedBy string
	Location  model.Location
	TTL       time.Duration
}

// Drop debits the player and places the units in the world.
func (s *Store) Drop(ctx context.Context, req DropRequest) (*model.WorldItem, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: drop %d", economy.ErrInvalidQuantity, req.Quantity)
	}
	if req.DroppedBy == "" {
		return nil, fmt.Errorf("%w: drop without player", economy.ErrInvalidRequest)
	}
	now := s.now()
	item := &model.WorldItem{
		ID:        uuid.NewString(),
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
		Location:  req.Location,
		Origin:    model.OriginPlayerDrop,
		DroppedBy: req.DroppedBy,
		DroppedAt: now,
		DespawnAt: now.Add(s.ttl(req.TTL)),
		State:     model.WorldItemDropped,
	}
	err := economy.RunTx(ctx, s.db, now, func(tx *economy.Tx) error {
		if err := registry.ExistsTx(tx, req.ItemID); err != nil {
			return err
		}
		holding, err := inventory.DebitTx(tx, req.DroppedBy, req.ItemID, req.Quantity)
		if err != nil {
			return err
		}
		if _, err := s.supply.ApplyDelta(tx, req.ItemID, economy.DropDelta(req.Quantity)); err != nil {
			return err
		}
		if err := tx.DB.Create(item).Error; err != nil {
			return fmt.Errorf("worlditem: create: %w", err)
		}
		loc := item.Location
		tx.Emit(s.sink, economy.Event{
			Type:        economy.EventItemDropped,
			ItemID:      item.ItemID,
			Quantity:    item.Quantity,
			PlayerID:    req.DroppedBy,
			WorldItemID: item.ID,
			Location:    &loc,
		})
		tx.Emit(s.sink, inventory.Updated(req.DroppedBy, req.ItemID, -req.Quantity, holding))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

type PickupResult struct {
	WorldItemID string `json:"world_item_id"`
	ItemID      string `json:"item_id"`
	Quantity    int64  `json:"quantity"`
	Holding     int64  `json:"holding"`
}

// Pickup moves a dropped stack into playerID's inventory. Of any number of
// concurrent attempts exactly one succeeds; the rest get ErrAlreadyPickedUp
// or ErrWorldItemNotFound and change nothing.
func (s *Store) Pickup(ctx context.Context, worldItemID, playerID string) (*PickupResult, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: pickup without player", economy.ErrInvalidRequest)
	}
	now := s.now()
	var out *PickupResult
	err := economy.RunTx(ctx, s.db, now, func(tx *economy.Tx) error {
		res := tx.DB.Model(&model.WorldItem{}).
			Where("id = ? AND state = ? AND despawn_at > ?", worldItemID, model.WorldItemDropped, now).
			Updates(map[string]interface{}{
				"state":        model.WorldItemPickedUp,
				"picked_up_by": playerID,
				"resolved_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("worlditem: pickup %s: %w", worldItemID, res.Error)
		}
		if res.RowsAffected == 0 {
			return s.pickupLost(tx, worldItemID)
		}

		item, err := get(tx.DB, worldItemID)
		if err != nil {
			return err
		}
		if _, err := s.supply.ApplyDelta(tx, item.ItemID, economy.PickupDelta(item.Quantity)); err != nil {
			return err
		}
		holding, err := inventory.CreditTx(tx, playerID, item.ItemID, item.Quantity, "pickup")
		if err != nil {
			return err
		}
		out = &PickupResult{WorldItemID: item.ID, ItemID: item.ItemID, Quantity: item.Quantity, Holding: holding}

		loc := item.Location
		tx.Emit(s.sink, economy.Event{
			Type:         economy.EventItemPickedUp,
			ItemID:       item.ItemID,
			Quantity:     item.Quantity,
			PlayerID:     playerID,
			Counterparty: item.DroppedBy,
			WorldItemID:  item.ID,
			Location:     &loc,
		})
		tx.Emit(s.sink, inventory.Updated(playerID, item.ItemID, item.Quantity, holding))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) pickupLost(tx *economy.Tx, worldItemID string) error {
	item, err := get(tx.DB, worldItemID)
	if err != nil {
		return err
	}
	if item.State == model.WorldItemPickedUp {
		return fmt.Errorf("%w: %s by %s", economy.ErrAlreadyPickedUp, worldItemID, item.PickedUpBy)
	}
	return fmt.Errorf("%w: %s is %s", economy.ErrWorldItemNotFound, worldItemID, item.State)
}

func get(db *gorm.DB, id string) (*model.WorldItem, error) {
	var item model.WorldItem
	err := db.Where("id = ?", id).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", economy.ErrWorldItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("worlditem: get %s: %w", id, err)
	}
	return &item, nil
}

// Get returns the world item with id in any state.
func (s *Store) Get(ctx context.Context, id string) (*model.WorldItem, error) {
	return get(s.db.WithContext(ctx), id)
}

// ListDropped returns every stack still on the ground, oldest first.
func (s *Store) ListDropped(ctx context.Context) ([]model.WorldItem, error) {
	var out []model.WorldItem
	err := s.db.WithContext(ctx).
		Where("state = ?", model.WorldItemDropped).
		Order("dropped_at, id").Find(&out).Error
	return out, err
}
