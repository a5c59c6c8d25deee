package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/ember/pkg/blockstore"
	"gopkg.in/yaml.v3"
)

// Config collects every tunable knob the block store and its surrounding
// binary need, loaded from YAML with environment-variable overrides.
type Config struct {
	UnrollInitialThresholdBytes int64   `yaml:"unroll_initial_threshold_bytes"`
	UnrollCheckPeriodRecords    int     `yaml:"unroll_check_period_records"`
	UnrollGrowthFactor          float64 `yaml:"unroll_growth_factor"`
	MaxOnHeapStorageBytes       int64   `yaml:"max_on_heap_storage_bytes"`
	MaxOffHeapStorageBytes      int64   `yaml:"max_off_heap_storage_bytes"`
	ChunkSizeBytes              int     `yaml:"chunk_size_bytes"`
	DiskSpillPath               string  `yaml:"disk_spill_path"`
	MetricsListenAddr           string  `yaml:"metrics_listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults; Load layers file
// and environment overrides on top of it.
func DefaultConfig() Config {
	return Config{
		UnrollInitialThresholdBytes: 1 << 20,
		UnrollCheckPeriodRecords:    16,
		UnrollGrowthFactor:          1.5,
		MaxOnHeapStorageBytes:       512 << 20,
		MaxOffHeapStorageBytes:      0,
		ChunkSizeBytes:              64 << 10,
		DiskSpillPath:               "./data",
		MetricsListenAddr:           ":9090",
	}
}

// Load reads cfg from a YAML file at path, then applies environment
// overrides on top. An empty path skips the file read entirely and returns
// defaults plus any environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideInt64(&cfg.UnrollInitialThresholdBytes, "EMBER_UNROLL_INITIAL_THRESHOLD_BYTES")
	overrideInt(&cfg.UnrollCheckPeriodRecords, "EMBER_UNROLL_CHECK_PERIOD_RECORDS")
	overrideFloat(&cfg.UnrollGrowthFactor, "EMBER_UNROLL_GROWTH_FACTOR")
	overrideInt64(&cfg.MaxOnHeapStorageBytes, "EMBER_MAX_ON_HEAP_STORAGE_BYTES")
	overrideInt64(&cfg.MaxOffHeapStorageBytes, "EMBER_MAX_OFF_HEAP_STORAGE_BYTES")
	overrideInt(&cfg.ChunkSizeBytes, "EMBER_CHUNK_SIZE_BYTES")
	if v := os.Getenv("EMBER_DISK_SPILL_PATH"); v != "" {
		cfg.DiskSpillPath = v
	}
	if v := os.Getenv("EMBER_METRICS_LISTEN_ADDR"); v != "" {
		cfg.MetricsListenAddr = v
	}
}

func overrideInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

// Blockstore adapts this config into the subset blockstore.New actually
// consumes.
func (c Config) Blockstore() blockstore.Config {
	return blockstore.Config{
		MaxOnHeapStorageBytes:  c.MaxOnHeapStorageBytes,
		MaxOffHeapStorageBytes: c.MaxOffHeapStorageBytes,
		UnrollInitialThreshold: c.UnrollInitialThresholdBytes,
		UnrollCheckPeriod:      c.UnrollCheckPeriodRecords,
		UnrollGrowthFactor:     c.UnrollGrowthFactor,
		ChunkSizeBytes:         c.ChunkSizeBytes,
	}
}
