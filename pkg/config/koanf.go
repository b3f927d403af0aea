package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/nicktill/tinytrack/pkg/settings"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys: TINYTRACK_SERVER_PORT -> server.port.
const EnvPrefix = "TINYTRACK_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "TINYTRACK_CONFIG"

// DefaultConfigPaths are searched in order when ConfigPathEnvVar is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tinytrack/config.yaml",
}

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Log       LogConfig         `koanf:"log"`
	HotState  HotStateConfig    `koanf:"hotstate"`
	Storage   StorageConfig     `koanf:"storage"`
	Catalog   CatalogConfig     `koanf:"catalog"`
	Ingest    IngestConfig      `koanf:"ingest"`
	Geofence  GeofenceConfig    `koanf:"geofence"`
	Tasks     settings.Settings `koanf:"tasks"`
	Retention RetentionConfig   `koanf:"retention"`
	MQTT      MQTTConfig        `koanf:"mqtt"`
	Breaker   BreakerConfig     `koanf:"breaker"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// HotStateConfig controls the per-device hot cache.
type HotStateConfig struct {
	Path       string        `koanf:"path" validate:"required_without=InMemory"`
	InMemory   bool          `koanf:"in_memory"`
	TTL        time.Duration `koanf:"ttl" validate:"gt=0"`
	HistoryCap int           `koanf:"history_cap" validate:"min=1"`
}

// StorageConfig controls the durable trajectory store.
type StorageConfig struct {
	Path        string        `koanf:"path" validate:"required_without=InMemory"`
	InMemory    bool          `koanf:"in_memory"`
	MaxMemoryMB int64         `koanf:"max_memory_mb" validate:"min=0"`
	GCInterval  time.Duration `koanf:"gc_interval" validate:"gt=0"`
}

// CatalogConfig points at the SQLite catalog holding tags, maps, geofences and alarms.
type CatalogConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// IngestConfig sizes the ingestion worker pools.
type IngestConfig struct {
	Workers         int   `koanf:"workers" validate:"min=1"`
	QueueSize       int   `koanf:"queue_size" validate:"min=1"`
	DispatchWorkers int   `koanf:"dispatch_workers" validate:"min=1"`
	BatchSize       int   `koanf:"batch_size" validate:"min=1"`
	MaxBodyBytes    int64 `koanf:"max_body_bytes" validate:"min=1024"`
}

// GeofenceConfig controls the alarm engine's periodic tasks.
type GeofenceConfig struct {
	WatchdogInterval time.Duration `koanf:"watchdog_interval" validate:"gt=0"`
	CacheRefresh     time.Duration `koanf:"cache_refresh" validate:"gt=0"`
}

// RetentionConfig controls the daily retention run.
type RetentionConfig struct {
	RunAt         string `koanf:"run_at" validate:"datetime=15:04"`
	MaxIterations int    `koanf:"max_iterations" validate:"min=1"`
}

// MQTTConfig enables the optional MQTT ingestion transport.
type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Broker   string `koanf:"broker" validate:"required_if=Enabled true"`
	Topic    string `koanf:"topic" validate:"required_if=Enabled true"`
	ClientID string `koanf:"client_id"`
	QoS      byte   `koanf:"qos" validate:"max=2"`
}

// BreakerConfig tunes the circuit breaker around catalog calls.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests" validate:"min=1"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		HotState: HotStateConfig{
			InMemory:   true,
			TTL:        HotStateTTL,
			HistoryCap: HotStateHistoryCap,
		},
		Storage: StorageConfig{
			Path:        "./data/trajectory",
			MaxMemoryMB: DefaultMaxMemoryMB,
			GCInterval:  BadgerGCInterval,
		},
		Catalog: CatalogConfig{Path: "./data/catalog.db"},
		Ingest: IngestConfig{
			Workers:         2 * runtime.NumCPU(),
			QueueSize:       IngestQueueSize,
			DispatchWorkers: IngestDispatchWorkers,
			BatchSize:       IngestBatchSize,
			MaxBodyBytes:    IngestMaxBodyBytes,
		},
		Geofence: GeofenceConfig{
			WatchdogInterval: WatchdogInterval,
			CacheRefresh:     GeofenceCacheRefresh,
		},
		Tasks: settings.Defaults(),
		Retention: RetentionConfig{
			RunAt:         RetentionRunAt,
			MaxIterations: RetentionMaxIteration,
		},
		MQTT: MQTTConfig{
			Topic:    "tinytrack/samples",
			ClientID: "tinytrack-server",
			QoS:      1,
		},
		Breaker: BreakerConfig{
			MaxRequests:      BreakerMaxRequests,
			Interval:         BreakerInterval,
			Timeout:          BreakerTimeout,
			FailureThreshold: BreakerFailureThreshold,
		},
	}
}

// Load layers defaults, an optional YAML file and TINYTRACK_* environment
// variables (highest priority), then validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints on every section.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// envTransform maps TINYTRACK_HOTSTATE_HISTORY_CAP to hotstate.history_cap.
// Only the first underscore separates section from key.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	return strings.Replace(key, "_", ".", 1)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
