// Package compensation detects unwanted movement deviations (compensatory
// patterns) from joint measurements and pose geometry. Detection is
// two-stage: a per-frame magnitude rule per pattern type, then a persistence
// tracker that debounces flicker by requiring the condition to hold
// continuously for a per-type minimum duration before an event is emitted.
package compensation

import (
	"fmt"
	"time"

	"github.com/physioassist/motioncore/internal/pose"
)

// Type names a compensatory movement pattern. The set is closed; each type
// carries its own magnitude rule, severity ladder, and persistence duration.
type Type string

const (
	TrunkLean     Type = "trunk_lean"
	ShoulderHike  Type = "shoulder_hike"
	KneeValgus    Type = "knee_valgus"
	HeelLift      Type = "heel_lift"
	HipDrop       Type = "hip_drop"
	IncompleteROM Type = "incomplete_rom"
)

// AllTypes lists every detectable pattern, in stable order.
func AllTypes() []Type {
	return []Type{TrunkLean, ShoulderHike, KneeValgus, HeelLift, HipDrop, IncompleteROM}
}

// Severity grades how pronounced a compensation is. It is recomputed from the
// current magnitude on every tracker update, never frozen at onset.
type Severity string

const (
	SeverityMinimal  Severity = "minimal"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// severityRanks orders severities for scoring and comparison.
var severityRanks = map[Severity]int{
	SeverityMinimal:  0,
	SeverityMild:     1,
	SeverityModerate: 2,
	SeveritySevere:   3,
}

// Rank returns the numeric order of the severity (minimal = 0).
func (s Severity) Rank() int { return severityRanks[s] }

// SeverityThresholds is the magnitude ladder grading a pattern. Magnitudes
// below Minimal do not count as a compensation at all.
type SeverityThresholds struct {
	Minimal  float64 `json:"minimal"`
	Mild     float64 `json:"mild"`
	Moderate float64 `json:"moderate"`
	Severe   float64 `json:"severe"`
}

// Grade maps a magnitude onto the ladder. The boolean is false below the
// minimal threshold.
func (t SeverityThresholds) Grade(magnitude float64) (Severity, bool) {
	switch {
	case magnitude >= t.Severe:
		return SeveritySevere, true
	case magnitude >= t.Moderate:
		return SeverityModerate, true
	case magnitude >= t.Mild:
		return SeverityMild, true
	case magnitude >= t.Minimal:
		return SeverityMinimal, true
	default:
		return "", false
	}
}

// Validate rejects ladders that are not strictly increasing. Mis-ordered
// clinical thresholds are a safety issue and must fail before session start.
func (t SeverityThresholds) Validate() error {
	if t.Minimal <= 0 {
		return fmt.Errorf("minimal threshold must be positive, got %f", t.Minimal)
	}
	if t.Mild <= t.Minimal || t.Moderate <= t.Mild || t.Severe <= t.Moderate {
		return fmt.Errorf("severity ladder must be strictly increasing, got %f/%f/%f/%f",
			t.Minimal, t.Mild, t.Moderate, t.Severe)
	}
	return nil
}

// TypeConfig is the per-pattern tuning block.
type TypeConfig struct {
	Thresholds     SeverityThresholds
	MinPersistence time.Duration
	// RiskWeight feeds feedback prioritization: injury-linked patterns carry
	// far more weight than cosmetic asymmetries.
	RiskWeight float64
}

// Config maps every detectable type to its tuning.
type Config map[Type]TypeConfig

// Validate checks every type block; missing types are configuration errors.
func (c Config) Validate() error {
	for _, typ := range AllTypes() {
		tc, ok := c[typ]
		if !ok {
			return fmt.Errorf("missing configuration for compensation type %q", typ)
		}
		if err := tc.Thresholds.Validate(); err != nil {
			return fmt.Errorf("type %q: %w", typ, err)
		}
		if tc.MinPersistence < 0 {
			return fmt.Errorf("type %q: negative persistence duration", typ)
		}
		if tc.RiskWeight < 0 {
			return fmt.Errorf("type %q: negative risk weight", typ)
		}
	}
	return nil
}

// Event is one detected compensation over a continuous time range. The same
// event record is updated in place while the condition persists and closed
// when magnitude drops below the minimal threshold.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Side          pose.Side `json:"side"`
	Severity      Severity  `json:"severity"`
	Magnitude     float64   `json:"magnitude"`
	PeakMagnitude float64   `json:"peak_magnitude"`
	StartNano     int64     `json:"start_nanos"`
	LastNano      int64     `json:"last_nanos"`
	Closed        bool      `json:"closed"`
}

// Duration returns the persisted time range covered so far.
func (e *Event) Duration() time.Duration {
	return time.Duration(e.LastNano - e.StartNano)
}
