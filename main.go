package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kasuganosora/itemledger/cache"
	"github.com/kasuganosora/itemledger/config"
	dbadapter "github.com/kasuganosora/itemledger/db"
	"github.com/kasuganosora/itemledger/economy/ledger"
	"github.com/kasuganosora/itemledger/model"
	"go.uber.org/zap"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Ledger ----
	l, err := ledger.New(ledger.Options{
		Config: cfg,
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Ledger.CatalogPath != "" {
		if _, err := l.Registry.LoadCatalog(ctx, cfg.Ledger.CatalogPath); err != nil {
			log.Fatalf("catalog: %v", err)
		}
	}
	if ov, err := l.Stats.Overview(ctx); err != nil {
		logger.Warn("economy overview failed", zap.Error(err))
	} else {
		logger.Info("economy loaded",
			zap.Int64("items", ov.Items),
			zap.Int64("total", ov.Total),
			zap.Int64("in_world", ov.InWorld),
			zap.Int64("dropped_instances", ov.DroppedInstances))
	}

	l.Start()
	logger.Info("Ledger running",
		zap.Duration("despawn_ttl", cfg.Ledger.DespawnTTL),
		zap.Duration("sweep_interval", cfg.Ledger.SweepInterval))

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l.Stop(shutdownCtx)
}
