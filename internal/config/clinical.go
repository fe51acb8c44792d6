// Package config loads and validates the clinical tuning configuration.
// Every clinically meaningful threshold lives here as data, never as an
// inline literal: severity ladders, persistence durations, risk weights,
// smoothing parameters, quality thresholds, and feedback dosing. A malformed
// config is fatal at load time: wrong clinical thresholds are a safety
// issue, so nothing starts a session over a config that did not validate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/physioassist/motioncore/internal/compensation"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
)

// DefaultConfigPath is the path to the canonical clinical defaults file.
// This is the single source of truth for all default clinical values.
const DefaultConfigPath = "config/clinical.defaults.json"

// SeverityLadder mirrors compensation.SeverityThresholds for JSON loading.
type SeverityLadder struct {
	Minimal  *float64 `json:"minimal,omitempty"`
	Mild     *float64 `json:"mild,omitempty"`
	Moderate *float64 `json:"moderate,omitempty"`
	Severe   *float64 `json:"severe,omitempty"`
}

// CompensationTuning is the per-pattern JSON block. Fields omitted from the
// file fall back to the built-in clinical defaults.
type CompensationTuning struct {
	Thresholds     *SeverityLadder `json:"thresholds,omitempty"`
	MinPersistence *string         `json:"min_persistence,omitempty"` // duration string like "150ms"
	RiskWeight     *float64        `json:"risk_weight,omitempty"`
}

// JointTuning is the per-joint JSON block overlaid on the built-in joint
// definition table. Only supplied fields override; the landmark triple and
// gate constraint stay fixed by the table.
type JointTuning struct {
	Plane  *string  `json:"plane,omitempty"`
	MinDeg *float64 `json:"min_deg,omitempty"`
	MaxDeg *float64 `json:"max_deg,omitempty"`
	Views  []string `json:"views,omitempty"`
}

// ClinicalConfig is the root configuration. The same JSON schema serves
// startup configuration and hot reload, so a running system can re-load the
// file and swap thresholds without recompilation. Pointer fields distinguish
// "absent, use default" from explicit zero; partial configs are safe.
type ClinicalConfig struct {
	// Smoothing params
	SmoothingMinCutoffHz   *float64 `json:"smoothing_min_cutoff_hz,omitempty"`
	SmoothingBeta          *float64 `json:"smoothing_beta,omitempty"`
	SmoothingDerivCutoffHz *float64 `json:"smoothing_deriv_cutoff_hz,omitempty"`
	SmoothingMinVisibility *float64 `json:"smoothing_min_visibility,omitempty"`
	SmoothingMaxGap        *string  `json:"smoothing_max_gap,omitempty"` // duration string like "100ms"

	// Measurement quality params
	QualityGoodMin        *float64 `json:"quality_good_min,omitempty"`
	QualityFairMin        *float64 `json:"quality_fair_min,omitempty"`
	MinLandmarkConfidence *float64 `json:"min_landmark_confidence,omitempty"`

	// Live-session budget params
	FrameBudget          *string `json:"frame_budget,omitempty"` // duration string like "25ms"
	BudgetBreachFrames   *int    `json:"budget_breach_frames,omitempty"`
	BudgetRecoveryFrames *int    `json:"budget_recovery_frames,omitempty"`

	// Per-pattern compensation tuning, keyed by compensation type name.
	Compensation map[string]*CompensationTuning `json:"compensation,omitempty"`

	// Feedback dosing: skill level name → max simultaneous feedback items.
	FeedbackMaxItems map[string]int `json:"feedback_max_items,omitempty"`

	// Target range of motion per joint in degrees, for the incomplete_rom
	// shortfall rule. Joints absent from the map are not ROM-checked.
	TargetROMDeg map[string]float64 `json:"target_rom_deg,omitempty"`

	// Per-joint measurement tuning (plane, plausible range, capture views),
	// keyed by joint id and overlaid on the built-in joint table.
	Joints map[string]*JointTuning `json:"joints,omitempty"`
}

// EmptyClinicalConfig returns a ClinicalConfig with all fields unset.
// Use LoadClinicalConfig to load actual values from the defaults file.
func EmptyClinicalConfig() *ClinicalConfig {
	return &ClinicalConfig{}
}

// LoadClinicalConfig loads and validates a ClinicalConfig from a JSON file.
// Fields omitted from the file retain their defaults, so partial configs
// are safe.
func LoadClinicalConfig(path string) (*ClinicalConfig, error) {
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

	cfg := EmptyClinicalConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical clinical defaults from
// DefaultConfigPath, searching upward from the working directory. Panics if
// the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *ClinicalConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadClinicalConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every supplied value; defaults are pre-validated. It is
// called by LoadClinicalConfig so a bad file never reaches a session.
func (c *ClinicalConfig) Validate() error {
	checkUnit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
		return nil
	}
	if err := checkUnit("smoothing_min_visibility", c.SmoothingMinVisibility); err != nil {
		return err
	}
	if err := checkUnit("quality_good_min", c.QualityGoodMin); err != nil {
		return err
	}
	if err := checkUnit("quality_fair_min", c.QualityFairMin); err != nil {
		return err
	}
	if err := checkUnit("min_landmark_confidence", c.MinLandmarkConfidence); err != nil {
		return err
	}

	good, fair := c.GetQualityGoodMin(), c.GetQualityFairMin()
	if good <= fair {
		return fmt.Errorf("quality_good_min (%f) must exceed quality_fair_min (%f)", good, fair)
	}

	if c.SmoothingMinCutoffHz != nil && *c.SmoothingMinCutoffHz <= 0 {
		return fmt.Errorf("smoothing_min_cutoff_hz must be positive, got %f", *c.SmoothingMinCutoffHz)
	}
	if c.SmoothingBeta != nil && *c.SmoothingBeta < 0 {
		return fmt.Errorf("smoothing_beta must be non-negative, got %f", *c.SmoothingBeta)
	}
	if c.SmoothingDerivCutoffHz != nil && *c.SmoothingDerivCutoffHz <= 0 {
		return fmt.Errorf("smoothing_deriv_cutoff_hz must be positive, got %f", *c.SmoothingDerivCutoffHz)
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"smoothing_max_gap", c.SmoothingMaxGap},
		{"frame_budget", c.FrameBudget},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", field.name, *field.value, err)
			}
		}
	}

	for name, tuning := range c.Compensation {
		if _, ok := knownCompensationType(name); !ok {
			return fmt.Errorf("unknown compensation type %q", name)
		}
		if tuning == nil {
			continue
		}
		if tuning.MinPersistence != nil && *tuning.MinPersistence != "" {
			if _, err := time.ParseDuration(*tuning.MinPersistence); err != nil {
				return fmt.Errorf("invalid min_persistence for %q: %w", name, err)
			}
		}
	}
	// The merged ladders must be strictly increasing; a config where a
	// critical threshold sits below a warning threshold is rejected here.
	if err := c.GetCompensationConfig().Validate(); err != nil {
		return err
	}

	for level, max := range c.FeedbackMaxItems {
		if max <= 0 {
			return fmt.Errorf("feedback_max_items[%q] must be positive, got %d", level, max)
		}
	}

	for joint, rom := range c.TargetROMDeg {
		if rom <= 0 {
			return fmt.Errorf("target_rom_deg[%q] must be positive, got %f", joint, rom)
		}
	}

	validPlanes := map[string]bool{
		string(goniometry.PlaneSagittal):   true,
		string(goniometry.PlaneFrontal):    true,
		string(goniometry.PlaneTransverse): true,
	}
	validViews := map[string]bool{
		string(pose.ViewFrontal):   true,
		string(pose.ViewSagittal):  true,
		string(pose.ViewPosterior): true,
	}
	table := goniometry.DefaultJointTable()
	for name, jt := range c.Joints {
		def, ok := table[goniometry.JointID(name)]
		if !ok {
			return fmt.Errorf("unknown joint %q", name)
		}
		if jt == nil {
			continue
		}
		if jt.Plane != nil && !validPlanes[*jt.Plane] {
			return fmt.Errorf("invalid plane %q for joint %q", *jt.Plane, name)
		}
		min, max := def.MinDeg, def.MaxDeg
		if jt.MinDeg != nil {
			min = *jt.MinDeg
		}
		if jt.MaxDeg != nil {
			max = *jt.MaxDeg
		}
		if max <= min {
			return fmt.Errorf("joint %q plausible range [%.1f, %.1f] is inverted", name, min, max)
		}
		for _, v := range jt.Views {
			if !validViews[v] {
				return fmt.Errorf("invalid capture view %q for joint %q", v, name)
			}
		}
	}

	return nil
}

func knownCompensationType(name string) (compensation.Type, bool) {
	for _, typ := range compensation.AllTypes() {
		if string(typ) == name {
			return typ, true
		}
	}
	return "", false
}

// GetFilterParams assembles the smoothing filter tuning.
func (c *ClinicalConfig) GetFilterParams() pose.FilterParams {
	p := pose.DefaultFilterParams()
	if c.SmoothingMinCutoffHz != nil {
		p.MinCutoffHz = *c.SmoothingMinCutoffHz
	}
	if c.SmoothingBeta != nil {
		p.Beta = *c.SmoothingBeta
	}
	if c.SmoothingDerivCutoffHz != nil {
		p.DerivCutoffHz = *c.SmoothingDerivCutoffHz
	}
	if c.SmoothingMinVisibility != nil {
		p.MinVisibility = *c.SmoothingMinVisibility
	}
	if c.SmoothingMaxGap != nil && *c.SmoothingMaxGap != "" {
		if d, err := time.ParseDuration(*c.SmoothingMaxGap); err == nil {
			p.MaxGapSeconds = d.Seconds()
		}
	}
	return p
}

// GetQualityGoodMin returns the quality_good_min value or the default.
func (c *ClinicalConfig) GetQualityGoodMin() float64 {
	if c.QualityGoodMin == nil {
		return 0.75
	}
	return *c.QualityGoodMin
}

// GetQualityFairMin returns the quality_fair_min value or the default.
func (c *ClinicalConfig) GetQualityFairMin() float64 {
	if c.QualityFairMin == nil {
		return 0.60
	}
	return *c.QualityFairMin
}

// GetMinLandmarkConfidence returns the min_landmark_confidence value or the default.
func (c *ClinicalConfig) GetMinLandmarkConfidence() float64 {
	if c.MinLandmarkConfidence == nil {
		return 0.30
	}
	return *c.MinLandmarkConfidence
}

// GetEngineConfig assembles the goniometry engine tuning.
func (c *ClinicalConfig) GetEngineConfig() goniometry.EngineConfig {
	return goniometry.EngineConfig{
		QualityGoodMin:        c.GetQualityGoodMin(),
		QualityFairMin:        c.GetQualityFairMin(),
		MinLandmarkConfidence: c.GetMinLandmarkConfidence(),
	}
}

// GetJointTable overlays the per-joint tuning on the built-in joint table.
// Unlisted joints and unsupplied fields keep the built-in definitions.
func (c *ClinicalConfig) GetJointTable() map[goniometry.JointID]goniometry.JointDefinition {
	table := goniometry.DefaultJointTable()
	for name, jt := range c.Joints {
		def, ok := table[goniometry.JointID(name)]
		if !ok || jt == nil {
			continue
		}
		if jt.Plane != nil {
			def.Plane = goniometry.PlaneName(*jt.Plane)
		}
		if jt.MinDeg != nil {
			def.MinDeg = *jt.MinDeg
		}
		if jt.MaxDeg != nil {
			def.MaxDeg = *jt.MaxDeg
		}
		if jt.Views != nil {
			views := make([]pose.CaptureView, len(jt.Views))
			for i, v := range jt.Views {
				views[i] = pose.CaptureView(v)
			}
			def.Views = views
		}
		table[goniometry.JointID(name)] = def
	}
	return table
}

// GetFrameBudget returns the live per-frame processing budget or the
// default. 25ms keeps filter→measure→detect well inside the ~100ms
// end-to-end budget shared with capture, inference, and rendering.
func (c *ClinicalConfig) GetFrameBudget() time.Duration {
	if c.FrameBudget == nil || *c.FrameBudget == "" {
		return 25 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.FrameBudget)
	if err != nil {
		return 25 * time.Millisecond
	}
	return d
}

// GetBudgetBreachFrames returns how many consecutive over-budget frames
// trigger degraded mode.
func (c *ClinicalConfig) GetBudgetBreachFrames() int {
	if c.BudgetBreachFrames == nil {
		return 5
	}
	return *c.BudgetBreachFrames
}

// GetBudgetRecoveryFrames returns how many consecutive under-budget frames
// restore full fidelity.
func (c *ClinicalConfig) GetBudgetRecoveryFrames() int {
	if c.BudgetRecoveryFrames == nil {
		return 30
	}
	return *c.BudgetRecoveryFrames
}

// defaultCompensationConfig holds the built-in clinical defaults per pattern.
var defaultCompensationConfig = compensation.Config{
	compensation.TrunkLean: {
		Thresholds:     compensation.SeverityThresholds{Minimal: 5, Mild: 10, Moderate: 20, Severe: 30},
		MinPersistence: 150 * time.Millisecond,
		RiskWeight:     2.0,
	},
	compensation.ShoulderHike: {
		Thresholds:     compensation.SeverityThresholds{Minimal: 4, Mild: 8, Moderate: 12, Severe: 18},
		MinPersistence: 200 * time.Millisecond,
		RiskWeight:     0.5,
	},
	compensation.KneeValgus: {
		Thresholds:     compensation.SeverityThresholds{Minimal: 5, Mild: 10, Moderate: 15, Severe: 25},
		MinPersistence: 120 * time.Millisecond,
		RiskWeight:     3.0,
	},
	compensation.HeelLift: {
		Thresholds:     compensation.SeverityThresholds{Minimal: 5, Mild: 10, Moderate: 20, Severe: 30},
		MinPersistence: 200 * time.Millisecond,
		RiskWeight:     1.0,
	},
	compensation.HipDrop: {
		Thresholds:     compensation.SeverityThresholds{Minimal: 4, Mild: 8, Moderate: 14, Severe: 20},
		MinPersistence: 150 * time.Millisecond,
		RiskWeight:     1.5,
	},
	compensation.IncompleteROM: {
		Thresholds:     compensation.SeverityThresholds{Minimal: 5, Mild: 10, Moderate: 20, Severe: 30},
		MinPersistence: 0, // post-hoc per-repetition rule
		RiskWeight:     1.0,
	},
}

// GetCompensationConfig merges file-supplied tuning over the built-in
// clinical defaults, per type and per field.
func (c *ClinicalConfig) GetCompensationConfig() compensation.Config {
	merged := make(compensation.Config, len(defaultCompensationConfig))
	for typ, def := range defaultCompensationConfig {
		tc := def
		if tuning := c.Compensation[string(typ)]; tuning != nil {
			if l := tuning.Thresholds; l != nil {
				if l.Minimal != nil {
					tc.Thresholds.Minimal = *l.Minimal
				}
				if l.Mild != nil {
					tc.Thresholds.Mild = *l.Mild
				}
				if l.Moderate != nil {
					tc.Thresholds.Moderate = *l.Moderate
				}
				if l.Severe != nil {
					tc.Thresholds.Severe = *l.Severe
				}
			}
			if tuning.MinPersistence != nil && *tuning.MinPersistence != "" {
				if d, err := time.ParseDuration(*tuning.MinPersistence); err == nil {
					tc.MinPersistence = d
				}
			}
			if tuning.RiskWeight != nil {
				tc.RiskWeight = *tuning.RiskWeight
			}
		}
		merged[typ] = tc
	}
	return merged
}

// GetFeedbackConfig merges file-supplied feedback dosing over the defaults.
func (c *ClinicalConfig) GetFeedbackConfig() feedback.Config {
	cfg := feedback.DefaultConfig()
	for level, max := range c.FeedbackMaxItems {
		cfg.MaxItems[feedback.SkillLevel(level)] = max
	}
	return cfg
}

// GetTargetROM returns the configured target range of motion for a joint.
// The boolean is false for joints that are not ROM-checked.
func (c *ClinicalConfig) GetTargetROM(joint goniometry.JointID) (float64, bool) {
	rom, ok := c.TargetROMDeg[string(joint)]
	return rom, ok
}
