package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/shiftstack/internal/filtering"
	"github.com/banshee-data/shiftstack/internal/search"
)

// DefaultConfigPath is the path to the canonical search defaults file.
const DefaultConfigPath = "config/search.defaults.json"

// SearchConfig is the JSON search configuration. Every field is optional;
// the Get* methods supply defaults for anything left out, so partial files
// are safe. Angles are radians and velocities are pixels per time unit.
type SearchConfig struct {
	// Velocity grid
	AngleSteps    *int     `json:"angle_steps,omitempty"`
	MinAngle      *float64 `json:"min_angle,omitempty"`
	MaxAngle      *float64 `json:"max_angle,omitempty"`
	VelocitySteps *int     `json:"velocity_steps,omitempty"`
	MinVelocity   *float64 `json:"min_velocity,omitempty"`
	MaxVelocity   *float64 `json:"max_velocity,omitempty"`

	// Scoring
	MinObservations *int     `json:"min_observations,omitempty"`
	MinLH           *float64 `json:"min_lh,omitempty"`
	Filter          *string  `json:"filter,omitempty"` // sigmag, kalman or none

	// Sigma-G clipping. A missing coefficient is derived from the percentiles.
	SigmaGLow   *float64 `json:"sigmag_low,omitempty"`
	SigmaGHigh  *float64 `json:"sigmag_high,omitempty"`
	SigmaGCoeff *float64 `json:"sigmag_coeff,omitempty"`
	SigmaGWidth *float64 `json:"sigmag_width,omitempty"`

	// Kalman filter
	KalmanPasses       *int     `json:"kalman_passes,omitempty"`
	KalmanProcessNoise *float64 `json:"kalman_process_noise,omitempty"`
	KalmanGateSigma    *float64 `json:"kalman_gate_sigma,omitempty"`

	// Region search geometry; the target is only used when both coordinates are set.
	Radius  *float64 `json:"radius,omitempty"`
	TargetX *float64 `json:"target_x,omitempty"`
	TargetY *float64 `json:"target_y,omitempty"`

	// Execution
	MaxResults          *int    `json:"max_results,omitempty"`
	Evaluator           *string `json:"evaluator,omitempty"` // sequential or parallel
	Workers             *int    `json:"workers,omitempty"`   // 0 = GOMAXPROCS
	BatchSize           *int    `json:"batch_size,omitempty"`
	MaxBatch            *int    `json:"max_batch,omitempty"` // 0 = unlimited
	RegionBatchSize     *int    `json:"region_batch_size,omitempty"`
	MaxRegionIterations *int    `json:"max_region_iterations,omitempty"`
	MaxRegionResults    *int    `json:"max_region_results,omitempty"`
	TimeBudget          *string `json:"time_budget,omitempty"` // duration string like "90s"; empty = none
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySearchConfig returns a SearchConfig with all fields set to nil.
func EmptySearchConfig() *SearchConfig {
	return &SearchConfig{}
}

// DefaultSearchConfig returns a config with every field set to its default.
func DefaultSearchConfig() *SearchConfig {
	c := EmptySearchConfig()
	return &SearchConfig{
		AngleSteps:          ptrInt(c.GetAngleSteps()),
		MinAngle:            ptrFloat64(c.GetMinAngle()),
		MaxAngle:            ptrFloat64(c.GetMaxAngle()),
		VelocitySteps:       ptrInt(c.GetVelocitySteps()),
		MinVelocity:         ptrFloat64(c.GetMinVelocity()),
		MaxVelocity:         ptrFloat64(c.GetMaxVelocity()),
		MinObservations:     ptrInt(c.GetMinObservations()),
		MinLH:               ptrFloat64(c.GetMinLH()),
		Filter:              ptrString(c.GetFilter()),
		SigmaGLow:           ptrFloat64(c.GetSigmaGLow()),
		SigmaGHigh:          ptrFloat64(c.GetSigmaGHigh()),
		SigmaGCoeff:         ptrFloat64(c.GetSigmaGCoeff()),
		SigmaGWidth:         ptrFloat64(c.GetSigmaGWidth()),
		KalmanPasses:        ptrInt(c.GetKalmanPasses()),
		KalmanProcessNoise:  ptrFloat64(c.GetKalmanProcessNoise()),
		KalmanGateSigma:     ptrFloat64(c.GetKalmanGateSigma()),
		Radius:              ptrFloat64(c.GetRadius()),
		MaxResults:          ptrInt(c.GetMaxResults()),
		Evaluator:           ptrString(c.GetEvaluator()),
		Workers:             ptrInt(c.GetWorkers()),
		BatchSize:           ptrInt(c.GetBatchSize()),
		MaxBatch:            ptrInt(c.GetMaxBatch()),
		RegionBatchSize:     ptrInt(c.GetRegionBatchSize()),
		MaxRegionIterations: ptrInt(c.GetMaxRegionIterations()),
		MaxRegionResults:    ptrInt(c.GetMaxRegionResults()),
		TimeBudget:          ptrString(""),
	}
}

// LoadSearchConfig loads a SearchConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSearchConfig(path string) (*SearchConfig, error) {
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

	cfg := EmptySearchConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// looking in the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SearchConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadSearchConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every field that is set, then the derived strategy and
// evaluator so that a config that validates can always be run.
func (c *SearchConfig) Validate() error {
	if c.AngleSteps != nil && *c.AngleSteps < 1 {
		return fmt.Errorf("angle_steps must be at least 1, got %d", *c.AngleSteps)
	}
	if c.VelocitySteps != nil && *c.VelocitySteps < 1 {
		return fmt.Errorf("velocity_steps must be at least 1, got %d", *c.VelocitySteps)
	}
	if c.GetMinVelocity() > c.GetMaxVelocity() {
		return fmt.Errorf("min_velocity %g exceeds max_velocity %g", c.GetMinVelocity(), c.GetMaxVelocity())
	}
	if c.MinObservations != nil && *c.MinObservations < 0 {
		return fmt.Errorf("min_observations must be non-negative, got %d", *c.MinObservations)
	}
	if c.Radius != nil && *c.Radius < 0 {
		return fmt.Errorf("radius must be non-negative, got %f", *c.Radius)
	}
	if (c.TargetX == nil) != (c.TargetY == nil) {
		return fmt.Errorf("target_x and target_y must be set together")
	}
	if c.MaxResults != nil && *c.MaxResults < 1 {
		return fmt.Errorf("max_results must be positive, got %d", *c.MaxResults)
	}
	for name, v := range map[string]*int{
		"workers":               c.Workers,
		"batch_size":            c.BatchSize,
		"max_batch":             c.MaxBatch,
		"region_batch_size":     c.RegionBatchSize,
		"max_region_iterations": c.MaxRegionIterations,
		"max_region_results":    c.MaxRegionResults,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}
	if c.TimeBudget != nil && *c.TimeBudget != "" {
		d, err := time.ParseDuration(*c.TimeBudget)
		if err != nil {
			return fmt.Errorf("invalid time_budget '%s': %w", *c.TimeBudget, err)
		}
		if d < 0 {
			return fmt.Errorf("time_budget must be non-negative, got %s", d)
		}
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if _, err := c.NewEvaluator(); err != nil {
		return err
	}
	return nil
}

// GetAngleSteps returns the angle_steps value or the default.
func (c *SearchConfig) GetAngleSteps() int {
	if c.AngleSteps == nil {
		return 9
	}
	return *c.AngleSteps
}

// GetMinAngle returns the min_angle value or the default.
func (c *SearchConfig) GetMinAngle() float64 {
	if c.MinAngle == nil {
		return -0.785398 // -π/4
	}
	return *c.MinAngle
}

// GetMaxAngle returns the max_angle value or the default.
func (c *SearchConfig) GetMaxAngle() float64 {
	if c.MaxAngle == nil {
		return 0.785398
	}
	return *c.MaxAngle
}

// GetVelocitySteps returns the velocity_steps value or the default.
func (c *SearchConfig) GetVelocitySteps() int {
	if c.VelocitySteps == nil {
		return 10
	}
	return *c.VelocitySteps
}

// GetMinVelocity returns the min_velocity value or the default.
func (c *SearchConfig) GetMinVelocity() float64 {
	if c.MinVelocity == nil {
		return 0.5
	}
	return *c.MinVelocity
}

// GetMaxVelocity returns the max_velocity value or the default.
func (c *SearchConfig) GetMaxVelocity() float64 {
	if c.MaxVelocity == nil {
		return 3.0
	}
	return *c.MaxVelocity
}

// GetMinObservations returns the min_observations value or the default.
func (c *SearchConfig) GetMinObservations() int {
	if c.MinObservations == nil {
		return 5
	}
	return *c.MinObservations
}

// GetMinLH returns the min_lh value or the default.
func (c *SearchConfig) GetMinLH() float64 {
	if c.MinLH == nil {
		return 10.0
	}
	return *c.MinLH
}

// GetFilter returns the filter strategy name or the default.
func (c *SearchConfig) GetFilter() string {
	if c.Filter == nil || *c.Filter == "" {
		return filtering.StrategySigmaG
	}
	return *c.Filter
}

// GetSigmaGLow returns the sigmag_low value or the default.
func (c *SearchConfig) GetSigmaGLow() float64 {
	if c.SigmaGLow == nil {
		return 0.25
	}
	return *c.SigmaGLow
}

// GetSigmaGHigh returns the sigmag_high value or the default.
func (c *SearchConfig) GetSigmaGHigh() float64 {
	if c.SigmaGHigh == nil {
		return 0.75
	}
	return *c.SigmaGHigh
}

// GetSigmaGCoeff returns sigmag_coeff, or the normal-distribution
// coefficient for the configured percentiles.
func (c *SearchConfig) GetSigmaGCoeff() float64 {
	if c.SigmaGCoeff == nil {
		return filtering.SigmaGCoeff(c.GetSigmaGLow(), c.GetSigmaGHigh())
	}
	return *c.SigmaGCoeff
}

// GetSigmaGWidth returns the sigmag_width value or the default.
func (c *SearchConfig) GetSigmaGWidth() float64 {
	if c.SigmaGWidth == nil {
		return 2.0
	}
	return *c.SigmaGWidth
}

// GetKalmanPasses returns the kalman_passes value or the default.
func (c *SearchConfig) GetKalmanPasses() int {
	if c.KalmanPasses == nil {
		return 2
	}
	return *c.KalmanPasses
}

// GetKalmanProcessNoise returns the kalman_process_noise value or the default.
func (c *SearchConfig) GetKalmanProcessNoise() float64 {
	if c.KalmanProcessNoise == nil {
		return 1.0
	}
	return *c.KalmanProcessNoise
}

// GetKalmanGateSigma returns the kalman_gate_sigma value or the default.
func (c *SearchConfig) GetKalmanGateSigma() float64 {
	if c.KalmanGateSigma == nil {
		return 5.0
	}
	return *c.KalmanGateSigma
}

// GetRadius returns the radius value or the default.
func (c *SearchConfig) GetRadius() float64 {
	if c.Radius == nil {
		return 10.0
	}
	return *c.Radius
}

// GetMaxResults returns the max_results value or the default.
func (c *SearchConfig) GetMaxResults() int {
	if c.MaxResults == nil {
		return 1000
	}
	return *c.MaxResults
}

// GetEvaluator returns the evaluator name or the default.
func (c *SearchConfig) GetEvaluator() string {
	if c.Evaluator == nil || *c.Evaluator == "" {
		return search.EvaluatorParallel
	}
	return *c.Evaluator
}

// GetWorkers returns the workers value or the default.
func (c *SearchConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetBatchSize returns the batch_size value or the default.
func (c *SearchConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return search.DefaultBatchSize
	}
	return *c.BatchSize
}

// GetMaxBatch returns the max_batch value or the default.
func (c *SearchConfig) GetMaxBatch() int {
	if c.MaxBatch == nil {
		return 0
	}
	return *c.MaxBatch
}

// GetRegionBatchSize returns the region_batch_size value or the default.
func (c *SearchConfig) GetRegionBatchSize() int {
	if c.RegionBatchSize == nil {
		return search.DefaultRegionBatchSize
	}
	return *c.RegionBatchSize
}

// GetMaxRegionIterations returns the max_region_iterations value or the default.
func (c *SearchConfig) GetMaxRegionIterations() int {
	if c.MaxRegionIterations == nil {
		return 0
	}
	return *c.MaxRegionIterations
}

// GetMaxRegionResults returns the max_region_results value or the default.
func (c *SearchConfig) GetMaxRegionResults() int {
	if c.MaxRegionResults == nil {
		return 0
	}
	return *c.MaxRegionResults
}

// GetTimeBudget parses and returns the TimeBudget. Zero means unlimited.
func (c *SearchConfig) GetTimeBudget() time.Duration {
	if c.TimeBudget == nil || *c.TimeBudget == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.TimeBudget)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}

// SigmaGParams assembles the sigma-G clipping parameters.
func (c *SearchConfig) SigmaGParams() filtering.SigmaGParams {
	return filtering.SigmaGParams{
		Low:   c.GetSigmaGLow(),
		High:  c.GetSigmaGHigh(),
		Coeff: c.GetSigmaGCoeff(),
		Width: c.GetSigmaGWidth(),
	}
}

// KalmanParams assembles the Kalman filter parameters.
func (c *SearchConfig) KalmanParams() filtering.KalmanParams {
	return filtering.KalmanParams{
		Passes:       c.GetKalmanPasses(),
		ProcessNoise: c.GetKalmanProcessNoise(),
		Gate:         c.GetKalmanGateSigma(),
	}
}

// Strategy builds the configured curve filter.
func (c *SearchConfig) Strategy() (filtering.Strategy, error) {
	return filtering.NewStrategy(c.GetFilter(), c.SigmaGParams(), c.KalmanParams(), c.GetMinObservations())
}

// NewEvaluator builds the configured evaluator backend.
func (c *SearchConfig) NewEvaluator() (search.Evaluator, error) {
	return search.NewEvaluator(c.GetEvaluator(), c.GetWorkers(), c.GetMaxBatch())
}

// GridParams assembles the grid search parameters.
func (c *SearchConfig) GridParams() search.GridParams {
	return search.GridParams{
		AngleSteps:      c.GetAngleSteps(),
		MinAngle:        c.GetMinAngle(),
		MaxAngle:        c.GetMaxAngle(),
		VelocitySteps:   c.GetVelocitySteps(),
		MinVelocity:     c.GetMinVelocity(),
		MaxVelocity:     c.GetMaxVelocity(),
		MinObservations: c.GetMinObservations(),
		MaxResults:      c.GetMaxResults(),
		BatchSize:       c.GetBatchSize(),
	}
}

// RegionParams assembles the region search parameters.
func (c *SearchConfig) RegionParams() search.RegionParams {
	p := search.RegionParams{
		MinLH:           c.GetMinLH(),
		MinObservations: c.GetMinObservations(),
		Radius:          c.GetRadius(),
		MaxIterations:   c.GetMaxRegionIterations(),
		MaxResults:      c.GetMaxRegionResults(),
		BatchSize:       c.GetRegionBatchSize(),
	}
	if c.TargetX != nil && c.TargetY != nil {
		p.Target = &search.Point{X: *c.TargetX, Y: *c.TargetY}
	}
	return p
}
