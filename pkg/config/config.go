// Package config provides configuration loading and management for stack2bin.
// It handles loading acquisition configuration from YAML files, provides
// default values, and computes the per-plane output layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Acquisition formats understood by the ingestion driver.
const (
	FormatInterleaved = "interleaved"
	FormatMesoscope   = "mesoscope"
	FormatOME         = "ome"
	FormatBruker      = "bruker"
)

// Config represents one ingestion run's configuration loaded from YAML.
type Config struct {
	// Acquisition parameters
	Acquisition struct {
		// Planes is the number of imaging planes in the recording
		Planes int `yaml:"planes"`

		// Channels is the number of detector channels (1 or 2)
		Channels int `yaml:"channels"`

		// FunctionalChan is the 1-based functional channel id
		FunctionalChan int `yaml:"functionalChan"`

		// Format selects the addressing scheme: interleaved, mesoscope,
		// ome, or bruker
		Format string `yaml:"format"`

		// Bidirectional marks ome series whose plane cycle is a
		// palindrome rather than a plain tile
		Bidirectional bool `yaml:"bidirectional"`

		// BatchSize is the frame-count hint per read; interleaved and
		// mesoscope runs round it up to a whole number of cycles
		BatchSize int `yaml:"batchSize"`
	} `yaml:"acquisition"`

	// Input parameters
	Input struct {
		// DataPath is the folder holding the source stacks
		DataPath string `yaml:"dataPath"`

		// LookOneLevelDown also ingests stacks in immediate subfolders
		LookOneLevelDown bool `yaml:"lookOneLevelDown"`

		// ForceGeneric skips backend probing and always uses the
		// generic decoder
		ForceGeneric bool `yaml:"forceGeneric"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// SavePath is the root under which plane folders are created
		SavePath string `yaml:"savePath"`

		// SaveFolder overrides the default "stack2bin" folder name
		SaveFolder string `yaml:"saveFolder"`

		// AggressiveReclaim enables the periodic memory-reclaim hint
		// between batches
		AggressiveReclaim bool `yaml:"aggressiveReclaim"`
	} `yaml:"output"`

	// Mesoscope parameters, used only when Format is mesoscope
	Mesoscope struct {
		// Lines holds, per ROI, the scan-line rows belonging to it
		Lines [][]int `yaml:"lines"`
	} `yaml:"mesoscope"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Acquisition.Planes = 1
	cfg.Acquisition.Channels = 1
	cfg.Acquisition.FunctionalChan = 1
	cfg.Acquisition.Format = FormatInterleaved
	cfg.Acquisition.BatchSize = 500

	cfg.Output.SaveFolder = "stack2bin"

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate checks the parts of the configuration that can be rejected
// before any sink is opened.
func (c *Config) Validate() error {
	a := &c.Acquisition
	if a.Planes < 1 {
		return fmt.Errorf("planes must be at least 1, got %d", a.Planes)
	}
	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.FunctionalChan < 1 || a.FunctionalChan > a.Channels {
		return fmt.Errorf("functional channel %d out of range for %d channels",
			a.FunctionalChan, a.Channels)
	}
	if a.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", a.BatchSize)
	}
	switch a.Format {
	case FormatInterleaved, FormatOME, FormatBruker:
	case FormatMesoscope:
		if len(c.Mesoscope.Lines) == 0 {
			return fmt.Errorf("mesoscope format requires a line table")
		}
		for i, rows := range c.Mesoscope.Lines {
			if len(rows) == 0 {
				return fmt.Errorf("mesoscope roi %d has an empty line range", i)
			}
		}
	default:
		return fmt.Errorf("unknown format %q", a.Format)
	}
	if c.Input.DataPath == "" {
		return fmt.Errorf("data path is required")
	}
	if c.Output.SavePath == "" {
		return fmt.Errorf("save path is required")
	}
	return nil
}

// EffectiveBatchSize returns the batch size the driver actually reads with:
// interleaved and mesoscope runs round the configured size up to the next
// multiple of the plane/channel cycle so that whole cycles arrive per batch.
func (c *Config) EffectiveBatchSize() int {
	b := c.Acquisition.BatchSize
	switch c.Acquisition.Format {
	case FormatInterleaved, FormatMesoscope:
		cycle := c.Acquisition.Planes * c.Acquisition.Channels
		if rem := b % cycle; rem != 0 {
			b += cycle - rem
		}
	}
	return b
}

// OutputPlanes returns how many output plane folders the run produces:
// planes for most formats, planes*ROIs for mesoscope recordings.
func (c *Config) OutputPlanes() int {
	if c.Acquisition.Format == FormatMesoscope {
		return c.Acquisition.Planes * len(c.Mesoscope.Lines)
	}
	return c.Acquisition.Planes
}

// PlanePaths holds the output layout of one plane folder.
type PlanePaths struct {
	Dir       string
	BinPath   string
	Chan2Path string
	OpsPath   string
}

// PlaneLayout computes and creates the output folder for plane j. The
// chan2 sink path is empty for single-channel runs.
func (c *Config) PlaneLayout(j int) (PlanePaths, error) {
	dir := filepath.Join(c.Output.SavePath, c.Output.SaveFolder, fmt.Sprintf("plane%d", j))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return PlanePaths{}, fmt.Errorf("error creating plane directory: %w", err)
	}
	p := PlanePaths{
		Dir:     dir,
		BinPath: filepath.Join(dir, "data.bin"),
		OpsPath: filepath.Join(dir, "ops.yaml"),
	}
	if c.Acquisition.Channels > 1 {
		p.Chan2Path = filepath.Join(dir, "data_chan2.bin")
	}
	return p, nil
}
