// Package stats answers read-only questions about the economy. Nothing in
// here writes.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/inventory"
	"github.com/kasuganosora/itemledger/economy/registry"
	"github.com/kasuganosora/itemledger/economy/supply"
	"github.com/kasuganosora/itemledger/model"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Config struct {
	RecentWindow time.Duration
	Health       HealthPolicy
}

type Service struct {
	db        *gorm.DB
	registry  *registry.Registry
	supply    *supply.Ledger
	inventory *inventory.Store
	cfg       Config
	clock     economy.Clock
}

func New(db *gorm.DB, reg *registry.Registry, sup *supply.Ledger, inv *inventory.Store, cfg Config) *Service {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 24 * time.Hour
	}
	if cfg.Health == (HealthPolicy{}) {
		cfg.Health = DefaultHealthPolicy()
	}
	return &Service{db: db, registry: reg, supply: sup, inventory: inv, cfg: cfg, clock: economy.SystemClock}
}

// WithClock swaps the time source, for tests.
func (s *Service) WithClock(clock economy.Clock) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// TradeSummary aggregates trades over the recent window. AvgPrice is
// weighted by quantity.
type TradeSummary struct {
	Count    int64   `json:"count"`
	Volume   int64   `json:"volume"`
	Value    int64   `json:"value"`
	AvgPrice float64 `json:"avg_price"`
	MinPrice int64   `json:"min_price"`
	MaxPrice int64   `json:"max_price"`
}

type ItemStats struct {
	Definition       model.ItemDefinition `json:"definition"`
	Supply           model.ItemSupply     `json:"supply"`
	Owners           int64                `json:"owners"`
	RecentTrades     TradeSummary         `json:"recent_trades"`
	DroppedInstances int64                `json:"dropped_instances"`
	CirculationRatio float64              `json:"circulation_ratio"`
	DestructionRatio float64              `json:"destruction_ratio"`
	Health           Health               `json:"economic_health"`
}

// ItemStats gathers the figures of one item.
func (s *Service) ItemStats(ctx context.Context, itemID string) (*ItemStats, error) {
	def, err := s.registry.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := &ItemStats{Definition: *def}
	since := s.clock().UTC().Add(-s.cfg.RecentWindow)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup, err := s.supply.Snapshot(gctx, itemID)
		out.Supply = sup
		return err
	})
	g.Go(func() error {
		n, err := s.inventory.Owners(gctx, itemID)
		out.Owners = n
		return err
	})
	g.Go(func() error {
		sum, err := s.trades(gctx, since, itemID)
		out.RecentTrades = sum
		return err
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.WorldItem{}).
			Where("item_id = ? AND state = ?", itemID, model.WorldItemDropped).
			Count(&out.DroppedInstances).Error
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stats: %s: %w", itemID, err)
	}

	out.CirculationRatio, out.DestructionRatio = Ratios(out.Supply)
	out.Health = s.cfg.Health.Classify(out.Supply, out.Owners)
	return out, nil
}

func (s *Service) trades(ctx context.Context, since time.Time, itemID string) (TradeSummary, error) {
	var row struct {
		Trades   int64
		Volume   int64
		Turnover int64
		MinPrice int64
		MaxPrice int64
	}
	q := s.db.WithContext(ctx).Model(&model.TradeRecord{}).
		Select("COUNT(*) AS trades, COALESCE(SUM(quantity), 0) AS volume, COALESCE(SUM(total_price), 0) AS turnover, " +
			"COALESCE(MIN(price_per_item), 0) AS min_price, COALESCE(MAX(price_per_item), 0) AS max_price").
		Where("created_at >= ?", since)
	if itemID != "" {
		q = q.Where("item_id = ?", itemID)
	}
	if err := q.Scan(&row).Error; err != nil {
		return TradeSummary{}, err
	}
	sum := TradeSummary{
		Count:    row.Trades,
		Volume:   row.Volume,
		Value:    row.Turnover,
		MinPrice: row.MinPrice,
		MaxPrice: row.MaxPrice,
	}
	if row.Volume > 0 {
		sum.AvgPrice = float64(row.Turnover) / float64(row.Volume)
	}
	return sum, nil
}

type Overview struct {
	Items            int64        `json:"items"`
	Total            int64        `json:"total"`
	InCirculation    int64        `json:"in_circulation"`
	InWorld          int64        `json:"in_world"`
	Destroyed        int64        `json:"destroyed"`
	DroppedInstances int64        `json:"dropped_instances"`
	RecentTrades     TradeSummary `json:"recent_trades"`
	ActiveTraders    int64        `json:"active_traders"`
	Generations      int64        `json:"generations"`
	Destructions     int64        `json:"destructions"`
	At               time.Time    `json:"at"`
}

// Overview sums the economy across every item.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	now := s.clock().UTC()
	since := now.Add(-s.cfg.RecentWindow)
	out := &Overview{At: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var row struct {
			Items         int64
			Total         int64
			InCirculation int64
			InWorld       int64
			Destroyed     int64
		}
		err := s.db.WithContext(gctx).Model(&model.ItemSupply{}).
			Select("COUNT(*) AS items, COALESCE(SUM(total), 0) AS total, " +
				"COALESCE(SUM(in_circulation), 0) AS in_circulation, " +
				"COALESCE(SUM(in_world), 0) AS in_world, COALESCE(SUM(destroyed), 0) AS destroyed").
			Scan(&row).Error
		out.Items, out.Total, out.InCirculation, out.InWorld, out.Destroyed =
			row.Items, row.Total, row.InCirculation, row.InWorld, row.Destroyed
		return err
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.WorldItem{}).
			Where("state = ?", model.WorldItemDropped).
			Count(&out.DroppedInstances).Error
	})
	g.Go(func() error {
		sum, err := s.trades(gctx, since, "")
		out.RecentTrades = sum
		return err
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Raw(
			"SELECT COUNT(*) FROM (SELECT seller_id AS player_id FROM trade_records WHERE created_at >= ? "+
				"UNION SELECT buyer_id FROM trade_records WHERE created_at >= ?) AS traders",
			since, since).Scan(&out.ActiveTraders).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.GenerationRecord{}).Count(&out.Generations).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&model.DestructionRecord{}).Count(&out.Destructions).Error
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stats: overview: %w", err)
	}
	return out, nil
}
