package domain

import "time"

// Config is the complete pipeline configuration, loaded by internal/config.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Database    DatabaseConfig `mapstructure:"database"`
	SQLite      SQLiteConfig   `mapstructure:"sqlite"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// SQLiteConfig holds the embedded store settings used by local runs.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig controls the canonical hash lookup cache.
type CacheConfig struct {
	// Backend is "redis", "lru" or "none".
	Backend    string        `mapstructure:"backend"`
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	LRUSize    int           `mapstructure:"lru_size"`
}

// PipelineConfig controls batch execution of a pipeline run.
type PipelineConfig struct {
	// DataDir is the data release directory holding the *.json files.
	DataDir string `mapstructure:"data_dir"`
	// BatchSize bounds each bulk write to the record stores.
	BatchSize int `mapstructure:"batch_size"`
	// MaxRetries is the retry ceiling for transient store write failures.
	MaxRetries int `mapstructure:"max_retries"`
	// WriteRateLimit caps bulk writes per second against the shared store.
	// Zero disables limiting.
	WriteRateLimit float64 `mapstructure:"write_rate_limit"`
	// CheckpointPath is where the resume checkpoint file lives.
	CheckpointPath string `mapstructure:"checkpoint_path"`
	// CheckpointStaleAfter is how old a checkpoint may be before resuming
	// requires explicit confirmation.
	CheckpointStaleAfter time.Duration `mapstructure:"checkpoint_stale_after"`
	// ReportDir is where per-run collision/merge reports are written.
	ReportDir string `mapstructure:"report_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ReleaseStats are the post-load statistics computed over the record store.
type ReleaseStats struct {
	UniqueConditionCount       int               `json:"unique_condition_count"`
	UniqueBiomarkerCount       int               `json:"unique_biomarker_count"`
	SingleBiomarkerCount       int               `json:"single_biomarker_count"`
	MulticomponentBiomarkerCnt int               `json:"multicomponent_biomarker_count"`
	EntityTypeSplits           []EntityTypeSplit `json:"entity_type_splits"`
}

// EntityTypeSplit is the record count for one assessed entity type.
type EntityTypeSplit struct {
	EntityType string `json:"entity_type"`
	Count      int    `json:"count"`
}
