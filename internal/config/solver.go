package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/nlfff/internal/potential"
	"github.com/banshee-data/nlfff/internal/relax"
)

// DefaultConfigPath is the path to the canonical solver defaults file.
const DefaultConfigPath = "config/solver.defaults.json"

// Defaults for settings that have no counterpart in relax.
const (
	DefaultPotentialMethod = potential.MethodFFT
	DefaultLogEvery        = 100
	DefaultDBSampleEvery   = 10
)

// SolverConfig is the JSON solver configuration. Every field is optional;
// the Get* methods supply the default for an unset field.
type SolverConfig struct {
	// Execution
	Backend        *string `json:"backend,omitempty"`
	Threads        *int    `json:"threads,omitempty"`
	MaxMemoryBytes *int64  `json:"max_memory_bytes,omitempty"`

	// Termination
	MaxIterations    *int     `json:"max_iterations,omitempty"`
	StableWindow     *int     `json:"stable_window,omitempty"`
	CWsinThreshold   *float64 `json:"cwsin_threshold,omitempty"`
	DivMeanThreshold *float64 `json:"div_mean_threshold,omitempty"`
	DivMaxThreshold  *float64 `json:"div_max_threshold,omitempty"`

	// Functional
	ForceFreeWeight  *float64 `json:"force_free_weight,omitempty"`
	DivergenceWeight *float64 `json:"divergence_weight,omitempty"`
	EpsilonFraction  *float64 `json:"epsilon_fraction,omitempty"`
	LateralBoundary  *string  `json:"lateral_boundary,omitempty"`

	// Step control. initial_step overrides the grid's mu.
	InitialStep *float64 `json:"initial_step,omitempty"`
	MinStep     *float64 `json:"min_step,omitempty"`
	StepGrowth  *float64 `json:"step_growth,omitempty"`
	StepShrink  *float64 `json:"step_shrink,omitempty"`

	// Cascade
	PotentialMethod          *string `json:"potential_method,omitempty"`
	ContinueOnNonConvergence *bool   `json:"continue_on_nonconvergence,omitempty"`

	// Reporting
	LogEvery      *int `json:"log_every,omitempty"`
	DBSampleEvery *int `json:"db_sample_every,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptySolverConfig returns a SolverConfig with all fields unset.
func EmptySolverConfig() *SolverConfig {
	return &SolverConfig{}
}

// DefaultSolverConfig returns a SolverConfig with every field set to its
// default.
func DefaultSolverConfig() *SolverConfig {
	c := EmptySolverConfig()
	return &SolverConfig{
		Backend:                  ptrString(c.GetBackend()),
		Threads:                  ptrInt(c.GetThreads()),
		MaxMemoryBytes:           ptrInt64(c.GetMaxMemoryBytes()),
		MaxIterations:            ptrInt(c.GetMaxIterations()),
		StableWindow:             ptrInt(c.GetStableWindow()),
		CWsinThreshold:           ptrFloat64(c.GetCWsinThreshold()),
		DivMeanThreshold:         ptrFloat64(c.GetDivMeanThreshold()),
		DivMaxThreshold:          ptrFloat64(c.GetDivMaxThreshold()),
		ForceFreeWeight:          ptrFloat64(c.GetForceFreeWeight()),
		DivergenceWeight:         ptrFloat64(c.GetDivergenceWeight()),
		EpsilonFraction:          ptrFloat64(c.GetEpsilonFraction()),
		LateralBoundary:          ptrString(c.GetLateralBoundary()),
		InitialStep:              ptrFloat64(c.GetInitialStep()),
		MinStep:                  ptrFloat64(c.GetMinStep()),
		StepGrowth:               ptrFloat64(c.GetStepGrowth()),
		StepShrink:               ptrFloat64(c.GetStepShrink()),
		PotentialMethod:          ptrString(c.GetPotentialMethod()),
		ContinueOnNonConvergence: ptrBool(c.GetContinueOnNonConvergence()),
		LogEvery:                 ptrInt(c.GetLogEvery()),
		DBSampleEvery:            ptrInt(c.GetDBSampleEvery()),
	}
}

// LoadSolverConfig loads a SolverConfig from a JSON file. The file must
// have a .json extension and be at most 1 MiB. Fields omitted from the
// file keep their defaults.
func LoadSolverConfig(path string) (*SolverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptySolverConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics when the file cannot be found and is
// meant for tests.
func MustLoadDefaultConfig() *SolverConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSolverConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Cross-field checks that need
// the full option set are left to relax.Options.Validate.
func (c *SolverConfig) Validate() error {
	if c.Backend != nil {
		switch *c.Backend {
		case relax.BackendSerial, relax.BackendCPU, relax.BackendGPU:
		default:
			return fmt.Errorf("backend must be one of serial, cpu or gpu, got %q", *c.Backend)
		}
	}
	if c.LateralBoundary != nil {
		if err := relax.ValidateLateral(*c.LateralBoundary); err != nil {
			return fmt.Errorf("lateral_boundary: %w", err)
		}
	}
	if c.PotentialMethod != nil {
		if err := potential.ValidateMethod(*c.PotentialMethod); err != nil {
			return fmt.Errorf("potential_method: %w", err)
		}
	}

	for _, v := range []struct {
		name string
		p    *int
	}{
		{"threads", c.Threads},
		{"max_iterations", c.MaxIterations},
		{"log_every", c.LogEvery},
		{"db_sample_every", c.DBSampleEvery},
	} {
		if v.p != nil && *v.p < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", v.name, *v.p)
		}
	}
	if c.StableWindow != nil && *c.StableWindow < 1 {
		return fmt.Errorf("stable_window must be at least 1, got %d", *c.StableWindow)
	}
	if c.MaxMemoryBytes != nil && *c.MaxMemoryBytes < 0 {
		return fmt.Errorf("max_memory_bytes must be non-negative, got %d", *c.MaxMemoryBytes)
	}

	for _, v := range []struct {
		name string
		p    *float64
	}{
		{"cwsin_threshold", c.CWsinThreshold},
		{"div_mean_threshold", c.DivMeanThreshold},
		{"div_max_threshold", c.DivMaxThreshold},
		{"force_free_weight", c.ForceFreeWeight},
		{"divergence_weight", c.DivergenceWeight},
		{"epsilon_fraction", c.EpsilonFraction},
		{"initial_step", c.InitialStep},
		{"min_step", c.MinStep},
	} {
		if v.p != nil && (math.IsNaN(*v.p) || math.IsInf(*v.p, 0) || *v.p < 0) {
			return fmt.Errorf("%s must be non-negative and finite, got %g", v.name, *v.p)
		}
	}
	if c.StepGrowth != nil && !(*c.StepGrowth >= 1 && !math.IsInf(*c.StepGrowth, 0)) {
		return fmt.Errorf("step_growth must be at least 1, got %g", *c.StepGrowth)
	}
	if c.StepShrink != nil && !(*c.StepShrink > 0 && *c.StepShrink < 1) {
		return fmt.Errorf("step_shrink must be between 0 and 1, got %g", *c.StepShrink)
	}
	return nil
}

// GetBackend returns the backend or "cpu".
func (c *SolverConfig) GetBackend() string {
	if c.Backend == nil {
		return relax.BackendCPU
	}
	return *c.Backend
}

// GetThreads returns the worker count. Zero means one per CPU.
func (c *SolverConfig) GetThreads() int {
	if c.Threads == nil {
		return 0
	}
	return *c.Threads
}

// GetMaxMemoryBytes returns the working set limit. Zero disables it.
func (c *SolverConfig) GetMaxMemoryBytes() int64 {
	if c.MaxMemoryBytes == nil {
		return 0
	}
	return *c.MaxMemoryBytes
}

func (c *SolverConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return relax.DefaultMaxIterations
	}
	return *c.MaxIterations
}

func (c *SolverConfig) GetStableWindow() int {
	if c.StableWindow == nil {
		return relax.DefaultStableWindow
	}
	return *c.StableWindow
}

func (c *SolverConfig) GetCWsinThreshold() float64 {
	if c.CWsinThreshold == nil {
		return relax.DefaultCWsinThreshold
	}
	return *c.CWsinThreshold
}

func (c *SolverConfig) GetDivMeanThreshold() float64 {
	if c.DivMeanThreshold == nil {
		return relax.DefaultDivMeanThreshold
	}
	return *c.DivMeanThreshold
}

func (c *SolverConfig) GetDivMaxThreshold() float64 {
	if c.DivMaxThreshold == nil {
		return relax.DefaultDivMaxThreshold
	}
	return *c.DivMaxThreshold
}

func (c *SolverConfig) GetForceFreeWeight() float64 {
	if c.ForceFreeWeight == nil {
		return 1
	}
	return *c.ForceFreeWeight
}

func (c *SolverConfig) GetDivergenceWeight() float64 {
	if c.DivergenceWeight == nil {
		return 1
	}
	return *c.DivergenceWeight
}

func (c *SolverConfig) GetEpsilonFraction() float64 {
	if c.EpsilonFraction == nil {
		return relax.DefaultEpsilonFraction
	}
	return *c.EpsilonFraction
}

// GetLateralBoundary returns the lateral face mode or "open".
func (c *SolverConfig) GetLateralBoundary() string {
	if c.LateralBoundary == nil {
		return relax.LateralOpen
	}
	return *c.LateralBoundary
}

// GetInitialStep returns the initial descent step. Zero defers to mu.
func (c *SolverConfig) GetInitialStep() float64 {
	if c.InitialStep == nil {
		return 0
	}
	return *c.InitialStep
}

func (c *SolverConfig) GetMinStep() float64 {
	if c.MinStep == nil {
		return relax.DefaultMinStep
	}
	return *c.MinStep
}

func (c *SolverConfig) GetStepGrowth() float64 {
	if c.StepGrowth == nil {
		return relax.DefaultStepGrowth
	}
	return *c.StepGrowth
}

func (c *SolverConfig) GetStepShrink() float64 {
	if c.StepShrink == nil {
		return relax.DefaultStepShrink
	}
	return *c.StepShrink
}

// GetPotentialMethod returns the potential evaluator or "fft".
func (c *SolverConfig) GetPotentialMethod() string {
	if c.PotentialMethod == nil {
		return DefaultPotentialMethod
	}
	return *c.PotentialMethod
}

// GetContinueOnNonConvergence returns whether the cascade moves on after
// a level that did not converge. Defaults to true.
func (c *SolverConfig) GetContinueOnNonConvergence() bool {
	if c.ContinueOnNonConvergence == nil {
		return true
	}
	return *c.ContinueOnNonConvergence
}

func (c *SolverConfig) GetLogEvery() int {
	if c.LogEvery == nil {
		return DefaultLogEvery
	}
	return *c.LogEvery
}

// GetDBSampleEvery returns how often iterations are written to the run
// ledger.
func (c *SolverConfig) GetDBSampleEvery() int {
	if c.DBSampleEvery == nil {
		return DefaultDBSampleEvery
	}
	return *c.DBSampleEvery
}

// RelaxOptions converts the configuration into optimizer options. The
// executor is built from the backend and thread count.
func (c *SolverConfig) RelaxOptions() (relax.Options, error) {
	exec, err := relax.NewExecutor(c.GetBackend(), c.GetThreads())
	if err != nil {
		return relax.Options{}, err
	}
	o := relax.Options{
		Executor:         exec,
		MaxIterations:    c.GetMaxIterations(),
		StableWindow:     c.GetStableWindow(),
		CWsinThreshold:   c.GetCWsinThreshold(),
		DivMeanThreshold: c.GetDivMeanThreshold(),
		DivMaxThreshold:  c.GetDivMaxThreshold(),
		ForceFreeWeight:  c.GetForceFreeWeight(),
		DivergenceWeight: c.GetDivergenceWeight(),
		EpsilonFraction:  c.GetEpsilonFraction(),
		InitialStep:      c.GetInitialStep(),
		MinStep:          c.GetMinStep(),
		StepGrowth:       c.GetStepGrowth(),
		StepShrink:       c.GetStepShrink(),
		Lateral:          c.GetLateralBoundary(),
		MaxMemoryBytes:   c.GetMaxMemoryBytes(),
		LogEvery:         c.GetLogEvery(),
	}
	if err := o.Validate(); err != nil {
		return relax.Options{}, err
	}
	return o, nil
}
