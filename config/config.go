package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type LogConfig struct {
	Debug bool   `mapstructure:"debug"`
	Level string `mapstructure:"level"` // debug | info | warn | error
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// LedgerConfig tunes the mutating side of the economy.
type LedgerConfig struct {
	CatalogPath        string        `mapstructure:"catalog_path"` // optional YAML item catalog seeded at boot
	DespawnTTL         time.Duration `mapstructure:"despawn_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize     int           `mapstructure:"sweep_batch_size"`
	SweepRowsPerSecond float64       `mapstructure:"sweep_rows_per_second"` // 0 = unlimited
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockMaxWait        time.Duration `mapstructure:"lock_max_wait"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

type StatsConfig struct {
	RecentWindow time.Duration `mapstructure:"recent_window"`
	Health       HealthConfig  `mapstructure:"health"`
}

// HealthConfig holds the thresholds of the economicHealth classification.
type HealthConfig struct {
	ScarceMaxCirculation       float64 `mapstructure:"scarce_max_circulation"`
	ScarceMinDestruction       float64 `mapstructure:"scarce_min_destruction"`
	HealthyMinOwners           int64   `mapstructure:"healthy_min_owners"`
	HealthyMinCirculation      float64 `mapstructure:"healthy_min_circulation"`
	OversuppliedMinCirculation float64 `mapstructure:"oversupplied_min_circulation"`
	OversuppliedMaxDestruction float64 `mapstructure:"oversupplied_max_destruction"`
}

type AuditConfig struct {
	ArchiveDir    string        `mapstructure:"archive_dir"` // empty disables the zstd archive
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/ledger.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("ledger.despawn_ttl", "2m")
	v.SetDefault("ledger.sweep_interval", "10s")
	v.SetDefault("ledger.sweep_batch_size", 500)
	v.SetDefault("ledger.sweep_rows_per_second", 0)
	v.SetDefault("ledger.lock_ttl", "5s")
	v.SetDefault("ledger.lock_max_wait", "2s")
	v.SetDefault("ledger.cache_ttl", "30s")
	v.SetDefault("stats.recent_window", "24h")
	v.SetDefault("stats.health.scarce_max_circulation", 0.3)
	v.SetDefault("stats.health.scarce_min_destruction", 0.5)
	v.SetDefault("stats.health.healthy_min_owners", 10)
	v.SetDefault("stats.health.healthy_min_circulation", 0.5)
	v.SetDefault("stats.health.oversupplied_min_circulation", 0.8)
	v.SetDefault("stats.health.oversupplied_max_destruction", 0.1)
	v.SetDefault("audit.flush_interval", "2s")
	v.SetDefault("audit.batch_size", 100)
}

// Default returns the configuration with every default applied and no file read.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ITEMLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
