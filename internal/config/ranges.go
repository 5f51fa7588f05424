package config

import (
	"fmt"
	"strconv"
	"strings"
)

// RangeSpec is an inclusive range sampled at Steps evenly spaced values,
// the form the angle and velocity grids take on the command line.
type RangeSpec struct {
	Min   float64
	Max   float64
	Steps int
}

// ParseRangeSpec parses a "min:max:steps" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:steps", s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}

	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}

	steps, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid steps value %q: %w", parts[2], err)
	}

	if steps < 1 {
		return RangeSpec{}, fmt.Errorf("steps must be at least 1, got %d", steps)
	}
	if min > max {
		return RangeSpec{}, fmt.Errorf("min %g exceeds max %g", min, max)
	}

	return RangeSpec{Min: min, Max: max, Steps: steps}, nil
}

// ApplyAngles overrides the angle grid with r.
func (c *SearchConfig) ApplyAngles(r RangeSpec) {
	c.MinAngle, c.MaxAngle, c.AngleSteps = ptrFloat64(r.Min), ptrFloat64(r.Max), ptrInt(r.Steps)
}

// ApplyVelocities overrides the velocity grid with r.
func (c *SearchConfig) ApplyVelocities(r RangeSpec) {
	c.MinVelocity, c.MaxVelocity, c.VelocitySteps = ptrFloat64(r.Min), ptrFloat64(r.Max), ptrInt(r.Steps)
}
