// Package config loads the service configuration from environment variables,
// optionally merged with a YAML file. Environment values win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Backup     BackupConfig     `yaml:"backup"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	DetailedLogging bool   `yaml:"detailed_logging"`
}

type DatabaseConfig struct {
	URL                string        `yaml:"url"`
	PoolSize           int           `yaml:"pool_size"`
	PoolOverflow       int           `yaml:"pool_overflow"`
	PoolTimeout        time.Duration `yaml:"pool_timeout"`
	PoolRecycle        time.Duration `yaml:"pool_recycle"`
	StatementTimeout   time.Duration `yaml:"statement_timeout"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

type CacheConfig struct {
	// Mode is single, sentinel, or cluster.
	Mode           string   `yaml:"mode"`
	URL            string   `yaml:"url"`
	SentinelMaster string   `yaml:"sentinel_master"`
	Nodes          []string `yaml:"nodes"`
	// CompressionThreshold in bytes; payloads above it are gzipped in L2.
	CompressionThreshold int           `yaml:"compression_threshold"`
	DefaultTTL           time.Duration `yaml:"default_ttl"`
}

type BackupConfig struct {
	Root          string `yaml:"root"`
	RetentionDays int    `yaml:"retention_days"`
	Workers       int    `yaml:"workers"`
	Compression   string `yaml:"compression"`
	StoreURL      string `yaml:"store_url"`
	StoreKey      string `yaml:"store_key"`
}

type MigrationsConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	// MinConfidence overrides the per-profile defaults, keyed by profile name.
	MinConfidence map[string]float64 `yaml:"min_confidence"`
}

// Load builds the configuration: defaults, then the YAML file when a path is
// given, then environment variables on top. The YAML decode is strict, so an
// unknown key is a load error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		decoder.SetStrict(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Database: DatabaseConfig{
			PoolSize:           10,
			PoolOverflow:       5,
			PoolTimeout:        30 * time.Second,
			PoolRecycle:        30 * time.Minute,
			StatementTimeout:   30 * time.Second,
			SlowQueryThreshold: time.Second,
		},
		Cache: CacheConfig{
			Mode:                 "single",
			CompressionThreshold: 1024,
			DefaultTTL:           5 * time.Minute,
		},
		Backup: BackupConfig{
			Root:          "./backups",
			RetentionDays: 30,
			Workers:       2,
			Compression:   "gzip",
		},
		Migrations: MigrationsConfig{
			Path:    "./migrations",
			Timeout: 10 * time.Minute,
		},
		Pipeline: PipelineConfig{MinConfidence: map[string]float64{}},
	}
}

// applyEnv overrides fields from the environment. Keys mirror the teacher's
// SCREAMING_SNAKE convention.
func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Env, "APP_ENV")
	setBool(&c.Server.DetailedLogging, "DETAILED_LOGGING")

	setString(&c.Database.URL, "DATABASE_URL")
	setInt(&c.Database.PoolSize, "DB_POOL_SIZE")
	setInt(&c.Database.PoolOverflow, "DB_POOL_OVERFLOW")
	setDuration(&c.Database.PoolTimeout, "DB_POOL_TIMEOUT")
	setDuration(&c.Database.PoolRecycle, "DB_POOL_RECYCLE")
	setDuration(&c.Database.StatementTimeout, "DB_STATEMENT_TIMEOUT")
	setDuration(&c.Database.SlowQueryThreshold, "DB_SLOW_QUERY_THRESHOLD")

	setString(&c.Cache.Mode, "REDIS_MODE")
	setString(&c.Cache.URL, "REDIS_URL")
	setString(&c.Cache.SentinelMaster, "REDIS_SENTINEL_MASTER")
	setInt(&c.Cache.CompressionThreshold, "CACHE_COMPRESSION_THRESHOLD")
	setDuration(&c.Cache.DefaultTTL, "CACHE_DEFAULT_TTL")

	setString(&c.Backup.Root, "BACKUP_ROOT")
	setInt(&c.Backup.RetentionDays, "BACKUP_RETENTION_DAYS")
	setInt(&c.Backup.Workers, "BACKUP_WORKERS")
	setString(&c.Backup.Compression, "BACKUP_COMPRESSION")
	setString(&c.Backup.StoreURL, "BACKUP_STORE_URL")
	setString(&c.Backup.StoreKey, "BACKUP_STORE_KEY")

	setString(&c.Migrations.Path, "MIGRATIONS_PATH")
	setDuration(&c.Migrations.Timeout, "MIGRATION_TIMEOUT")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	switch c.Cache.Mode {
	case "single", "sentinel", "cluster":
	default:
		return fmt.Errorf("config: unknown cache mode %q", c.Cache.Mode)
	}
	switch c.Backup.Compression {
	case "none", "gzip", "bzip2":
	default:
		return fmt.Errorf("config: unknown backup compression %q", c.Backup.Compression)
	}
	if c.Backup.Workers <= 0 {
		return fmt.Errorf("config: backup workers must be positive")
	}
	for profile, threshold := range c.Pipeline.MinConfidence {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("config: min_confidence for %q out of range: %v", profile, threshold)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
