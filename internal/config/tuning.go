package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/zvertex/internal/vertexfinder"
	"github.com/banshee-data/zvertex/internal/workdiv"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the vertex finder.
// Omitted keys fall back to the defaults returned by the Get* methods.
type TuningConfig struct {
	// Clustering params
	MinT    *int     `json:"min_t,omitempty"`
	Eps     *float64 `json:"eps,omitempty"`
	ErrMax  *float64 `json:"errmax,omitempty"`
	Chi2Max *float64 `json:"chi2max,omitempty"`
	Verify  *bool    `json:"verify,omitempty"`

	// Track selection params
	PtMin *float64 `json:"pt_min,omitempty"`
	PtMax *float64 `json:"pt_max,omitempty"`

	// Fit params
	FitChi2Max *float64 `json:"fit_chi2_max,omitempty"`

	// Execution params
	Workers        *int `json:"workers,omitempty"`
	ParallelEvents *int `json:"parallel_events,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		MinT:           ptrInt(c.GetMinT()),
		Eps:            ptrFloat64(c.GetEps()),
		ErrMax:         ptrFloat64(c.GetErrMax()),
		Chi2Max:        ptrFloat64(c.GetChi2Max()),
		Verify:         ptrBool(c.GetVerify()),
		PtMin:          ptrFloat64(c.GetPtMin()),
		PtMax:          ptrFloat64(c.GetPtMax()),
		FitChi2Max:     ptrFloat64(c.GetFitChi2Max()),
		Workers:        ptrInt(c.GetWorkers()),
		ParallelEvents: ptrInt(c.GetParallelEvents()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/vertexfinder/monitor/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MinT != nil && *c.MinT < 1 {
		return fmt.Errorf("min_t must be at least 1, got %d", *c.MinT)
	}

	// eps may not exceed the width of a neighbour-index bucket
	if c.Eps != nil && !(*c.Eps > 0 && *c.Eps <= vertexfinder.BucketWidth) {
		return fmt.Errorf("eps must be in (0, %g], got %g", vertexfinder.BucketWidth, *c.Eps)
	}

	positive := []struct {
		name string
		v    *float64
	}{
		{"errmax", c.ErrMax},
		{"chi2max", c.Chi2Max},
		{"fit_chi2_max", c.FitChi2Max},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %g", p.name, *p.v)
		}
	}

	if c.PtMin != nil && *c.PtMin < 0 {
		return fmt.Errorf("pt_min must be non-negative, got %g", *c.PtMin)
	}
	if c.GetPtMax() < c.GetPtMin() {
		return fmt.Errorf("pt_max %g is below pt_min %g", c.GetPtMax(), c.GetPtMin())
	}

	if c.Workers != nil && (*c.Workers < 1 || *c.Workers > workdiv.MaxTeamSize) {
		return fmt.Errorf("workers must be in [1, %d], got %d", workdiv.MaxTeamSize, *c.Workers)
	}
	if c.ParallelEvents != nil && *c.ParallelEvents < 1 {
		return fmt.Errorf("parallel_events must be at least 1, got %d", *c.ParallelEvents)
	}

	return nil
}

// Params builds the clustering parameters.
func (c *TuningConfig) Params() vertexfinder.Params {
	return vertexfinder.Params{
		MinT:    c.GetMinT(),
		Eps:     float32(c.GetEps()),
		ErrMax:  float32(c.GetErrMax()),
		Chi2Max: float32(c.GetChi2Max()),
		Verify:  c.GetVerify(),
	}
}

// FinderConfig builds the full vertex finder configuration.
func (c *TuningConfig) FinderConfig() vertexfinder.Config {
	return vertexfinder.Config{
		Clustering:     c.Params(),
		PtMin:          float32(c.GetPtMin()),
		PtMax:          float32(c.GetPtMax()),
		FitChi2Max:     float32(c.GetFitChi2Max()),
		Workers:        c.GetWorkers(),
		ParallelEvents: c.GetParallelEvents(),
	}
}

// GetMinT returns the min_t value or the default.
func (c *TuningConfig) GetMinT() int {
	if c.MinT == nil {
		return vertexfinder.DefaultMinT
	}
	return *c.MinT
}

// GetEps returns the eps value or the default.
func (c *TuningConfig) GetEps() float64 {
	if c.Eps == nil {
		return vertexfinder.DefaultEps
	}
	return *c.Eps
}

// GetErrMax returns the errmax value or the default.
func (c *TuningConfig) GetErrMax() float64 {
	if c.ErrMax == nil {
		return vertexfinder.DefaultErrMax
	}
	return *c.ErrMax
}

// GetChi2Max returns the chi2max value or the default.
func (c *TuningConfig) GetChi2Max() float64 {
	if c.Chi2Max == nil {
		return vertexfinder.DefaultChi2Max
	}
	return *c.Chi2Max
}

// GetVerify returns the verify value or the default.
func (c *TuningConfig) GetVerify() bool {
	if c.Verify == nil {
		return false
	}
	return *c.Verify
}

// GetPtMin returns the pt_min value or the default.
func (c *TuningConfig) GetPtMin() float64 {
	if c.PtMin == nil {
		return vertexfinder.DefaultPtMin
	}
	return *c.PtMin
}

// GetPtMax returns the pt_max value or the default.
func (c *TuningConfig) GetPtMax() float64 {
	if c.PtMax == nil {
		return vertexfinder.DefaultPtMax
	}
	return *c.PtMax
}

// GetFitChi2Max returns the fit_chi2_max value or the default.
func (c *TuningConfig) GetFitChi2Max() float64 {
	if c.FitChi2Max == nil {
		return vertexfinder.DefaultFitChi2Max
	}
	return *c.FitChi2Max
}

// GetWorkers returns the workers value or the default, one per CPU up to 32.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return vertexfinder.DefaultConfig().Workers
	}
	return *c.Workers
}

// GetParallelEvents returns the parallel_events value or the default.
func (c *TuningConfig) GetParallelEvents() int {
	if c.ParallelEvents == nil {
		return 1
	}
	return *c.ParallelEvents
}
