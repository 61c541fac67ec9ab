package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ResGather/partitions"
)

func writeFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wells.yaml", `
wells:
  - name: PROD
    type: producer
    completions: [{i: 3, j: 1, k1: 0, k2: 0}]
`)
	path := writeFile(t, dir, "case.yaml", `
grid:
  dims: [4, 2, 1]
  cell_size: [50, 50, 5]
  inactive: [7]
partition:
  ranks: 2
  strategy: graph
phases: 2
report_steps: 4
io_rank: 1
wells:
  - name: INJ
    type: injector
    rate_target: 10
    completions: [{i: 0, j: 0, k1: 0, k2: 0}]
schedule_file: wells.yaml
transport:
  kind: websocket
  address: 127.0.0.1:9999
  run_id: 6f1c2a5e-8d0b-4a55-9e0c-1f2b3c4d5e6f
  dial_retry: 50ms
debug: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, [3]int{4, 2, 1}, cfg.Grid.Dims)
	assert.Equal(t, []int{7}, cfg.Grid.Inactive)
	assert.Equal(t, partitions.GraphPartition, cfg.Strategy())
	assert.Equal(t, 1, cfg.IORank)
	assert.Equal(t, 50*time.Millisecond, cfg.Transport.DialRetry)
	assert.Equal(t, "/comm", cfg.Transport.Path, "default kept")
	assert.Equal(t, 100.0, cfg.Permeability.KX, "default kept")
	require.NotNil(t, cfg.Debug)
	assert.True(t, *cfg.Debug)

	id, err := cfg.RunID()
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a5e-8d0b-4a55-9e0c-1f2b3c4d5e6f", id.String())

	s, err := cfg.Schedule()
	require.NoError(t, err)
	require.Len(t, s.Wells, 2)
	assert.Equal(t, "INJ", s.Wells[0].Name)
	assert.Equal(t, "PROD", s.Wells[1].Name)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero dim", func(c *Config) { c.Grid.Dims[1] = 0 }},
		{"no ranks", func(c *Config) { c.Partition.Ranks = 0 }},
		{"bad strategy", func(c *Config) { c.Partition.Strategy = "metis" }},
		{"no phases", func(c *Config) { c.Phases = 0 }},
		{"no steps", func(c *Config) { c.ReportSteps = 0 }},
		{"io rank out of range", func(c *Config) { c.IORank = 3 }},
		{"bad permeability", func(c *Config) { c.Permeability.KY = 0 }},
		{"bad transport", func(c *Config) { c.Transport.Kind = "mpi" }},
		{"websocket without run id", func(c *Config) { c.Transport.Kind = "websocket" }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = Load(writeFile(t, dir, "bad.yaml", "grid: [not, a, map]"))
	assert.Error(t, err)

	cfg, err := Load(writeFile(t, dir, "case.yaml", "schedule_file: nowhere.yaml\n"))
	require.NoError(t, err)
	_, err = cfg.Schedule()
	assert.Error(t, err)
}

func TestPermeabilityField(t *testing.T) {
	cfg := Default()
	cfg.Permeability = PermeabilityConfig{KX: 1, KY: 2, KZ: 3}
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, cfg.PermeabilityField(2))
}
