package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(1<<20), cfg.UnrollInitialThresholdBytes)
	assert.Equal(t, 16, cfg.UnrollCheckPeriodRecords)
	assert.Equal(t, 1.5, cfg.UnrollGrowthFactor)
	assert.Equal(t, int64(512<<20), cfg.MaxOnHeapStorageBytes)
	assert.Equal(t, ":9090", cfg.MetricsListenAddr)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ember.yaml")
	contents := `
unroll_initial_threshold_bytes: 2048
unroll_check_period_records: 4
unroll_growth_factor: 2.0
max_on_heap_storage_bytes: 1000000
max_off_heap_storage_bytes: 500000
chunk_size_bytes: 1024
disk_spill_path: /var/lib/ember
metrics_listen_addr: :9999
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), cfg.UnrollInitialThresholdBytes)
	assert.Equal(t, 4, cfg.UnrollCheckPeriodRecords)
	assert.Equal(t, 2.0, cfg.UnrollGrowthFactor)
	assert.Equal(t, int64(1000000), cfg.MaxOnHeapStorageBytes)
	assert.Equal(t, int64(500000), cfg.MaxOffHeapStorageBytes)
	assert.Equal(t, 1024, cfg.ChunkSizeBytes)
	assert.Equal(t, "/var/lib/ember", cfg.DiskSpillPath)
	assert.Equal(t, ":9999", cfg.MetricsListenAddr)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ember.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size_bytes: 1024\n"), 0600))

	t.Setenv("EMBER_CHUNK_SIZE_BYTES", "2048")
	t.Setenv("EMBER_UNROLL_INITIAL_THRESHOLD_BYTES", "99")
	t.Setenv("EMBER_UNROLL_CHECK_PERIOD_RECORDS", "7")
	t.Setenv("EMBER_UNROLL_GROWTH_FACTOR", "3.25")
	t.Setenv("EMBER_MAX_ON_HEAP_STORAGE_BYTES", "123456")
	t.Setenv("EMBER_MAX_OFF_HEAP_STORAGE_BYTES", "654321")
	t.Setenv("EMBER_DISK_SPILL_PATH", "/tmp/spill")
	t.Setenv("EMBER_METRICS_LISTEN_ADDR", ":7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.ChunkSizeBytes)
	assert.Equal(t, int64(99), cfg.UnrollInitialThresholdBytes)
	assert.Equal(t, 7, cfg.UnrollCheckPeriodRecords)
	assert.Equal(t, 3.25, cfg.UnrollGrowthFactor)
	assert.Equal(t, int64(123456), cfg.MaxOnHeapStorageBytes)
	assert.Equal(t, int64(654321), cfg.MaxOffHeapStorageBytes)
	assert.Equal(t, "/tmp/spill", cfg.DiskSpillPath)
	assert.Equal(t, ":7000", cfg.MetricsListenAddr)
}

func TestEnvOverrideIgnoresUnparsableValue(t *testing.T) {
	t.Setenv("EMBER_CHUNK_SIZE_BYTES", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ChunkSizeBytes, cfg.ChunkSizeBytes)
}

func TestBlockstoreAdapterMapsFields(t *testing.T) {
	cfg := DefaultConfig()
	bsCfg := cfg.Blockstore()
	assert.Equal(t, cfg.MaxOnHeapStorageBytes, bsCfg.MaxOnHeapStorageBytes)
	assert.Equal(t, cfg.MaxOffHeapStorageBytes, bsCfg.MaxOffHeapStorageBytes)
	assert.Equal(t, cfg.UnrollInitialThresholdBytes, bsCfg.UnrollInitialThreshold)
	assert.Equal(t, cfg.UnrollCheckPeriodRecords, bsCfg.UnrollCheckPeriod)
	assert.Equal(t, cfg.UnrollGrowthFactor, bsCfg.UnrollGrowthFactor)
	assert.Equal(t, cfg.ChunkSizeBytes, bsCfg.ChunkSizeBytes)
}
