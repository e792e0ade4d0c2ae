// Package config loads leafwalk settings from a YAML file with environment
// overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/leafwalk/internal/leaves"
)

// Config holds all leafwalk settings.
type Config struct {
	DataDir string `yaml:"data_dir"`

	// Optimizer is "walker" for the gradient walker or "mayfly" for the
	// derivative-free baseline.
	Optimizer string `yaml:"optimizer"`
	Loss      string `yaml:"loss"`

	Estimation EstimationConfig `yaml:"estimation"`
	Mayfly     MayflyConfig     `yaml:"mayfly"`
	Data       DataConfig       `yaml:"data"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EstimationConfig configures the gradient walker leaf estimation.
type EstimationConfig struct {
	Method       string  `yaml:"method"`       // Gradient, Newton
	Backtracking string  `yaml:"backtracking"` // No, AnyImprovement
	Leafwise     bool    `yaml:"leafwise"`
	Iterations   int     `yaml:"iterations"`
	LearningRate float64 `yaml:"learning_rate"`
	L2           float64 `yaml:"l2"`
	Workers      int     `yaml:"workers"`
}

// MayflyConfig configures the derivative-free baseline.
type MayflyConfig struct {
	Iterations int     `yaml:"iterations"`
	PopSize    int     `yaml:"pop_size"`
	Bound      float64 `yaml:"bound"` // leaf values are searched in [-bound, bound]
}

// DataConfig describes the synthetic problem to fit.
type DataConfig struct {
	Samples    int     `yaml:"samples"`
	Leaves     int     `yaml:"leaves"`
	Dimensions int     `yaml:"dimensions"`
	Noise      float64 `yaml:"noise"`
	Binary     bool    `yaml:"binary"`
	Seed       int64   `yaml:"seed"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "./data",
		Optimizer: "walker",
		Loss:      "RMSE",
		Estimation: EstimationConfig{
			Method:       "Newton",
			Backtracking: "AnyImprovement",
			Iterations:   10,
			LearningRate: 1.0,
			L2:           3.0,
			Workers:      runtime.NumCPU(),
		},
		Mayfly: MayflyConfig{
			Iterations: 200,
			PopSize:    30,
			Bound:      10,
		},
		Data: DataConfig{
			Samples:    1000,
			Leaves:     8,
			Dimensions: 1,
			Noise:      0.1,
			Seed:       42,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("LEAFWALK_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv("LEAFWALK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ValidOptimizers lists the supported optimizers.
var ValidOptimizers = []string{"walker", "mayfly"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	validOptimizer := false
	for _, o := range ValidOptimizers {
		if c.Optimizer == o {
			validOptimizer = true
			break
		}
	}
	if !validOptimizer {
		return fmt.Errorf("invalid optimizer: %s (valid: %v)", c.Optimizer, ValidOptimizers)
	}

	if _, err := leaves.LossByName(c.Loss); err != nil {
		return err
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	if c.Optimizer == "walker" {
		if _, err := c.Estimation.Params(); err != nil {
			return err
		}
	} else {
		if c.Mayfly.Iterations <= 0 {
			return fmt.Errorf("mayfly.iterations must be positive, got %d", c.Mayfly.Iterations)
		}
		if c.Mayfly.PopSize < 20 {
			return fmt.Errorf("mayfly.pop_size must be at least 20, got %d", c.Mayfly.PopSize)
		}
		if c.Mayfly.Bound <= 0 {
			return fmt.Errorf("mayfly.bound must be positive, got %g", c.Mayfly.Bound)
		}
	}

	return nil
}

// Params converts the estimation settings into leaf estimation parameters.
func (e EstimationConfig) Params() (leaves.Params, error) {
	method, err := leaves.ParseMethod(e.Method)
	if err != nil {
		return leaves.Params{}, err
	}
	backtracking, err := leaves.ParseBacktracking(e.Backtracking)
	if err != nil {
		return leaves.Params{}, err
	}

	params := leaves.Params{
		Method:       method,
		Iterations:   e.Iterations,
		LearningRate: e.LearningRate,
		L2:           e.L2,
		Backtracking: backtracking,
		Leafwise:     e.Leafwise,
		Workers:      e.Workers,
	}
	if err := params.Validate(); err != nil {
		return leaves.Params{}, err
	}
	return params, nil
}

// Synthetic converts the data settings into a synthetic problem config.
func (d DataConfig) Synthetic() leaves.SyntheticConfig {
	return leaves.SyntheticConfig{
		Samples:    d.Samples,
		Leaves:     d.Leaves,
		Dimensions: d.Dimensions,
		Noise:      d.Noise,
		Binary:     d.Binary,
		Seed:       d.Seed,
	}
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", l.Level)
	}
	return level, nil
}
