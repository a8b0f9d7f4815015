package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry is the catalog of item definitions. Lookups read through the
// cache; Register is the only writer and invalidates after commit.
type Registry struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	clock  economy.Clock
	logger *zap.Logger
}

// New creates a Registry. c may be nil to disable caching.
func New(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{db: db, cache: c, ttl: ttl, clock: economy.SystemClock, logger: logger}
}

// WithClock swaps the time source, for tests.
func (r *Registry) WithClock(clock economy.Clock) *Registry {
	if clock != nil {
		r.clock = clock
	}
	return r
}

func cacheKey(id string) string { return "item:def:" + id }

// Validate normalizes def in place and checks it.
func Validate(def *model.ItemDefinition) error {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return fmt.Errorf("%w: empty id", economy.ErrInvalidDefinition)
	}
	if def.MaxStack < 1 {
		return fmt.Errorf("%w: %s max_stack %d < 1", economy.ErrInvalidDefinition, def.ID, def.MaxStack)
	}
	if def.BaseValue < 0 {
		return fmt.Errorf("%w: %s negative base_value", economy.ErrInvalidDefinition, def.ID)
	}
	if def.Category == "" {
		def.Category = model.CategoryMisc
	}
	switch v := def.Metadata.Data().Variants(); {
	case len(v) > 1:
		return fmt.Errorf("%w: %s metadata sets %v, expected at most one", economy.ErrInvalidDefinition, def.ID, v)
	case len(v) == 1 && v[0] != def.Category:
		return fmt.Errorf("%w: %s metadata %q does not match category %q", economy.ErrInvalidDefinition, def.ID, v[0], def.Category)
	}
	return nil
}

// Register upserts def by id. A new id also gets a zeroed supply row in the
// same transaction; a known id only has its descriptive fields updated.
func (r *Registry) Register(ctx context.Context, def model.ItemDefinition) (created bool, err error) {
	if err := Validate(&def); err != nil {
		return false, err
	}
	err = economy.RunTx(ctx, r.db, r.clock(), func(tx *economy.Tx) error {
		res := tx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&def)
		if res.Error != nil {
			return fmt.Errorf("registry: insert %s: %w", def.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			created = true
			supply := &model.ItemSupply{ItemID: def.ID}
			if err := tx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(supply).Error; err != nil {
				return fmt.Errorf("registry: init supply %s: %w", def.ID, err)
			}
		} else {
			err := tx.DB.Model(&model.ItemDefinition{}).Where("id = ?", def.ID).Updates(map[string]interface{}{
				"name":       def.Name,
				"category":   def.Category,
				"rarity":     def.Rarity,
				"base_value": def.BaseValue,
				"max_stack":  def.MaxStack,
				"tradeable":  def.Tradeable,
				"metadata":   def.Metadata,
				"updated_at": tx.Now,
			}).Error
			if err != nil {
				return fmt.Errorf("registry: update %s: %w", def.ID, err)
			}
		}
		tx.AfterCommit(func() { r.invalidate(context.WithoutCancel(ctx), def.ID) })
		return nil
	})
	if err != nil {
		return false, err
	}
	r.logger.Debug("item registered", zap.String("item_id", def.ID), zap.Bool("created", created))
	return created, nil
}

// Get returns the definition of id or ErrItemNotRegistered.
func (r *Registry) Get(ctx context.Context, id string) (*model.ItemDefinition, error) {
	if def, ok := r.cached(ctx, id); ok {
		return def, nil
	}
	var def model.ItemDefinition
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&def).Error; err != nil {
		return nil, notFound(id, err)
	}
	r.store(ctx, &def)
	return &def, nil
}

// GetTx reads id inside tx, bypassing the cache.
func GetTx(tx *economy.Tx, id string) (*model.ItemDefinition, error) {
	var def model.ItemDefinition
	if err := tx.DB.Where("id = ?", id).Take(&def).Error; err != nil {
		return nil, notFound(id, err)
	}
	return &def, nil
}

// ExistsTx fails with ErrItemNotRegistered unless id is registered.
func ExistsTx(tx *economy.Tx, id string) error {
	var n int64
	if err := tx.DB.Model(&model.ItemDefinition{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("registry: lookup %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", economy.ErrItemNotRegistered, id)
	}
	return nil
}

// List returns every definition ordered by id.
func (r *Registry) List(ctx context.Context) ([]model.ItemDefinition, error) {
	var defs []model.ItemDefinition
	err := r.db.WithContext(ctx).Order("id").Find(&defs).Error
	return defs, err
}

func notFound(id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", economy.ErrItemNotRegistered, id)
	}
	return fmt.Errorf("registry: get %s: %w", id, err)
}

func (r *Registry) cached(ctx context.Context, id string) (*model.ItemDefinition, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(id))
	if err != nil {
		if !cache.IsNotFound(err) {
			r.logger.Warn("registry cache read failed", zap.String("item_id", id), zap.Error(err))
		}
		return nil, false
	}
	var def model.ItemDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, false
	}
	return &def, true
}

func (r *Registry) store(ctx context.Context, def *model.ItemDefinition) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(def.ID), string(raw), r.ttl); err != nil {
		r.logger.Warn("registry cache write failed", zap.String("item_id", def.ID), zap.Error(err))
	}
}

func (r *Registry) invalidate(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(id)); err != nil {
		r.logger.Warn("registry cache invalidation failed", zap.String("item_id", id), zap.Error(err))
	}
}
