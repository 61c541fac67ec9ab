// Package config loads the YAML description of a gather run: the grid, its
// partitioning, the wells and how the ranks talk to each other.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/notargets/ResGather/partitions"
	"github.com/notargets/ResGather/wells"
)

// Config is a complete run description
type Config struct {
	Grid         GridConfig         `yaml:"grid"`
	Partition    PartitionConfig    `yaml:"partition"`
	Phases       int                `yaml:"phases"`
	ReportSteps  int                `yaml:"report_steps"`
	IORank       int                `yaml:"io_rank"`
	Permeability PermeabilityConfig `yaml:"permeability"`
	Wells        []wells.WellSpec   `yaml:"wells"`
	ScheduleFile string             `yaml:"schedule_file"` // appended after Wells, relative to the config file
	Transport    TransportConfig    `yaml:"transport"`
	LogLevel     string             `yaml:"log_level"`

	// Debug forces the uniqueness check and the post gather barrier on or
	// off; nil keeps the build default
	Debug *bool `yaml:"debug"`

	dir string
}

// GridConfig describes a cartesian grid
type GridConfig struct {
	Dims     [3]int     `yaml:"dims"`
	CellSize [3]float64 `yaml:"cell_size"`
	Inactive []int      `yaml:"inactive"` // cartesian indices
}

// PartitionConfig chooses the decomposition
type PartitionConfig struct {
	Ranks    int    `yaml:"ranks"`
	Strategy string `yaml:"strategy"`
}

// PermeabilityConfig is a uniform, possibly anisotropic permeability
type PermeabilityConfig struct {
	KX float64 `yaml:"kx"`
	KY float64 `yaml:"ky"`
	KZ float64 `yaml:"kz"`
}

// TransportConfig selects how ranks exchange messages
type TransportConfig struct {
	Kind      string        `yaml:"kind"` // local or websocket
	Address   string        `yaml:"address"`
	Path      string        `yaml:"path"`
	RunID     string        `yaml:"run_id"`
	DialRetry time.Duration `yaml:"dial_retry"`
	Timeout   time.Duration `yaml:"timeout"` // zero waits forever
}

// ValidTransports is the set of recognized transport kinds
var ValidTransports = map[string]bool{"local": true, "websocket": true}

// Default returns a small three rank case running in process
func Default() *Config {
	return &Config{
		Grid: GridConfig{
			Dims:     [3]int{10, 1, 1},
			CellSize: [3]float64{100, 100, 10},
		},
		Partition:    PartitionConfig{Ranks: 3, Strategy: "block"},
		Phases:       3,
		ReportSteps:  1,
		Permeability: PermeabilityConfig{KX: 100, KY: 100, KZ: 10},
		Transport: TransportConfig{
			Kind:      "local",
			Address:   "127.0.0.1:7600",
			Path:      "/comm",
			DialRetry: 200 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML configuration on top of Default and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and names
func (c *Config) Validate() error {
	for d := 0; d < 3; d++ {
		if c.Grid.Dims[d] <= 0 || c.Grid.CellSize[d] <= 0 {
			return fmt.Errorf("grid dimension %d: %d cells of size %g", d, c.Grid.Dims[d], c.Grid.CellSize[d])
		}
	}
	if c.Partition.Ranks < 1 {
		return fmt.Errorf("partition.ranks must be positive, got %d", c.Partition.Ranks)
	}
	if _, err := partitions.ParseStrategy(c.Partition.Strategy); err != nil {
		return err
	}
	if c.Phases < 1 {
		return fmt.Errorf("phases must be positive, got %d", c.Phases)
	}
	if c.ReportSteps < 1 {
		return fmt.Errorf("report_steps must be positive, got %d", c.ReportSteps)
	}
	if c.IORank < 0 || c.IORank >= c.Partition.Ranks {
		return fmt.Errorf("io_rank %d outside %d ranks", c.IORank, c.Partition.Ranks)
	}
	if c.Permeability.KX <= 0 || c.Permeability.KY <= 0 || c.Permeability.KZ < 0 {
		return fmt.Errorf("permeability (%g, %g, %g) must be positive",
			c.Permeability.KX, c.Permeability.KY, c.Permeability.KZ)
	}
	if !ValidTransports[c.Transport.Kind] {
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "websocket" {
		if c.Transport.Address == "" {
			return fmt.Errorf("websocket transport needs an address")
		}
		// every rank process must present the same token to the hub
		if _, err := uuid.Parse(c.Transport.RunID); err != nil {
			return fmt.Errorf("transport.run_id: %w", err)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	s := &wells.Schedule{Wells: c.Wells}
	return s.Validate()
}

// Schedule merges the inline wells with those of ScheduleFile
func (c *Config) Schedule() (*wells.Schedule, error) {
	s := &wells.Schedule{Wells: append([]wells.WellSpec(nil), c.Wells...)}
	if c.ScheduleFile != "" {
		path := c.ScheduleFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.dir, path)
		}
		file, err := wells.LoadSchedule(path)
		if err != nil {
			return nil, err
		}
		s.Wells = append(s.Wells, file.Wells...)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// PermeabilityField expands the uniform permeability to kx, ky, kz per cell
func (c *Config) PermeabilityField(numCells int) []float64 {
	perm := make([]float64, 3*numCells)
	for i := 0; i < numCells; i++ {
		perm[3*i] = c.Permeability.KX
		perm[3*i+1] = c.Permeability.KY
		perm[3*i+2] = c.Permeability.KZ
	}
	return perm
}

// RunID parses the run token of the websocket transport
func (c *Config) RunID() (uuid.UUID, error) {
	return uuid.Parse(c.Transport.RunID)
}

// Strategy returns the parsed partition strategy
func (c *Config) Strategy() partitions.PartitionStrategy {
	s, _ := partitions.ParseStrategy(c.Partition.Strategy)
	return s
}
