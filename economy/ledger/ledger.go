// Package ledger wires the economy components together from configuration
// and runs the periodic despawn sweep.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/itemledger/audit"
	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/config"
	"github.com/kasuganosora/itemledger/economy"
	"github.com/kasuganosora/itemledger/economy/inventory"
	"github.com/kasuganosora/itemledger/economy/notify"
	"github.com/kasuganosora/itemledger/economy/registry"
	"github.com/kasuganosora/itemledger/economy/stats"
	"github.com/kasuganosora/itemledger/economy/supply"
	"github.com/kasuganosora/itemledger/economy/trade"
	"github.com/kasuganosora/itemledger/economy/worlditem"
	"github.com/kasuganosora/itemledger/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepTask     = "despawn_sweep"
	bootSweepTask = "despawn_sweep:boot"
)

// Options carries the shared infrastructure. Cache and PubSub may be nil;
// Sink, if set, receives every event in addition to the built-in sinks.
type Options struct {
	Config *config.Config
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Sink   economy.Sink
	Clock  economy.Clock
	Logger *zap.Logger
}

type Ledger struct {
	Registry  *registry.Registry
	Supply    *supply.Ledger
	Inventory *inventory.Store
	World     *worlditem.Store
	Trades    *trade.Service
	Stats     *stats.Service
	Audit     *audit.Recorder

	archive *audit.Archive
	sched   *scheduler.Scheduler
	cfg     *config.Config
	clock   economy.Clock
	logger  *zap.Logger
}

func New(opts Options) (*Ledger, error) {
	if opts.DB == nil {
		return nil, errors.New("ledger: nil DB")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = economy.SystemClock
	}
	lc := cfg.Ledger

	sinks := notify.Multi{notify.NewLogSink(logger.Named("events"))}
	if opts.PubSub != nil {
		sinks = append(sinks, notify.NewPubSubSink(opts.PubSub, logger))
	}
	if opts.Sink != nil {
		sinks = append(sinks, opts.Sink)
	}

	var locker *cache.Locker
	if opts.Cache != nil {
		locker = cache.NewLocker(opts.Cache, lc.LockTTL, lc.LockMaxWait)
	}

	var archive *audit.Archive
	if cfg.Audit.ArchiveDir != "" {
		archive = audit.NewArchive(
			audit.NewJSONLZstdWriter(cfg.Audit.ArchiveDir, "audit"),
			audit.ArchiveConfig{FlushInterval: cfg.Audit.FlushInterval, BatchSize: cfg.Audit.BatchSize},
			logger.Named("audit"))
	}
	rec := audit.NewRecorder(opts.DB, archive)

	sup := supply.New(opts.DB, opts.Cache, lc.CacheTTL, logger.Named("supply"))
	reg := registry.New(opts.DB, opts.Cache, lc.CacheTTL, logger.Named("registry")).WithClock(clock)
	inv := inventory.New(opts.DB, sup, rec, sinks, logger.Named("inventory")).WithClock(clock)
	world := worlditem.New(opts.DB, sup, rec, locker, sinks, worlditem.Config{
		DespawnTTL:    lc.DespawnTTL,
		BatchSize:     lc.SweepBatchSize,
		RowsPerSecond: lc.SweepRowsPerSecond,
	}, logger.Named("world")).WithClock(clock)
	trades := trade.New(opts.DB, rec, locker, sinks, logger.Named("trade")).WithClock(clock)

	h := cfg.Stats.Health
	st := stats.New(opts.DB, reg, sup, inv, stats.Config{
		RecentWindow: cfg.Stats.RecentWindow,
		Health: stats.HealthPolicy{
			ScarceMaxCirculation:       h.ScarceMaxCirculation,
			ScarceMinDestruction:       h.ScarceMinDestruction,
			HealthyMinOwners:           h.HealthyMinOwners,
			HealthyMinCirculation:      h.HealthyMinCirculation,
			OversuppliedMinCirculation: h.OversuppliedMinCirculation,
			OversuppliedMaxDestruction: h.OversuppliedMaxDestruction,
		},
	}).WithClock(clock)

	return &Ledger{
		Registry:  reg,
		Supply:    sup,
		Inventory: inv,
		World:     world,
		Trades:    trades,
		Stats:     st,
		Audit:     rec,
		archive:   archive,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Sweep runs one despawn pass at the current time.
func (l *Ledger) Sweep(ctx context.Context) error {
	_, err := l.World.DespawnSweep(ctx, l.clock())
	return err
}

// Start schedules the despawn sweep: once right away, to catch stacks that
// expired while the process was down, then every ledger.sweep_interval.
func (l *Ledger) Start() {
	if l.sched != nil {
		return
	}
	interval := l.cfg.Ledger.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	l.sched = scheduler.New(l.logger.Named("scheduler"))
	l.sched.AddDelay(bootSweepTask, 0, l.Sweep)
	l.sched.AddTicker(sweepTask, interval, l.Sweep)
}

// Stop halts the sweep, waits for a running pass and flushes the archive.
func (l *Ledger) Stop(ctx context.Context) {
	if l.sched != nil {
		l.sched.Stop()
	}
	if l.archive != nil {
		l.archive.Stop(ctx)
	}
}
