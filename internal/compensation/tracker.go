package compensation

import (
	"github.com/google/uuid"

	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
)

// trackerKey identifies one persistence tracker: one per pattern type and side.
type trackerKey struct {
	typ  Type
	side pose.Side
}

// trackerState follows one condition between threshold crossings. event stays
// nil until the minimum persistence duration has elapsed.
type trackerState struct {
	aboveSinceNano int64
	peakMagnitude  float64
	event          *Event
}

// Detector runs the two-stage detection: per-frame magnitude rules, then
// persistence debouncing. It owns session-scoped mutable state (the per-type
// trackers); one instance per subject, never written concurrently, reset at
// session boundaries.
type Detector struct {
	rules   []Rule
	cfg     Config
	minConf float64

	states  map[trackerKey]*trackerState
	emitted []*Event
}

// NewDetector builds a detector over the default rules. The config must have
// passed Validate; minConfidence is the landmark floor below which rules
// refuse to read a frame.
func NewDetector(cfg Config, minConfidence float64) *Detector {
	return &Detector{
		rules:   DefaultRules(),
		cfg:     cfg,
		minConf: minConfidence,
		states:  make(map[trackerKey]*trackerState),
	}
}

// SetConfig swaps tuning without touching tracker state, for hot reload.
// Severity is recomputed from the new ladders on the next frame.
func (d *Detector) SetConfig(cfg Config) { d.cfg = cfg }

// Reset discards all in-flight tracker state. Open events are closed at their
// last observed time; already-emitted results are not affected.
func (d *Detector) Reset() {
	for _, st := range d.states {
		if st.event != nil {
			st.event.Closed = true
		}
	}
	d.states = make(map[trackerKey]*trackerState)
}

// Events returns every event emitted so far, open and closed.
func (d *Detector) Events() []*Event {
	out := make([]*Event, len(d.emitted))
	copy(out, d.emitted)
	return out
}

// Detect processes one frame of inputs and returns the events updated this
// frame. Events appear only after their type's minimum persistence duration
// has elapsed, are updated in place while the condition holds, and close when
// magnitude drops below the minimal threshold. Frames with no trustworthy
// reading for a pattern leave its tracker untouched.
func (d *Detector) Detect(in Inputs) []*Event {
	now := in.Frame.TimestampNano
	var updated []*Event

	for _, rule := range d.rules {
		tc, ok := d.cfg[rule.Type]
		if !ok {
			continue
		}
		for _, side := range rule.Sides {
			magnitude, readable := rule.Magnitude(in, side, d.minConf)
			if !readable {
				continue
			}

			key := trackerKey{typ: rule.Type, side: side}
			severity, above := tc.Thresholds.Grade(magnitude)
			st := d.states[key]

			if !above {
				if st != nil {
					if st.event != nil {
						st.event.Closed = true
					}
					delete(d.states, key)
				}
				continue
			}

			if st == nil {
				st = &trackerState{aboveSinceNano: now, peakMagnitude: magnitude}
				d.states[key] = st
			}
			if magnitude > st.peakMagnitude {
				st.peakMagnitude = magnitude
			}

			if st.event == nil {
				if now-st.aboveSinceNano < tc.MinPersistence.Nanoseconds() {
					continue
				}
				st.event = &Event{
					ID:        uuid.NewString(),
					Type:      rule.Type,
					Side:      side,
					StartNano: st.aboveSinceNano,
				}
				d.emitted = append(d.emitted, st.event)
			}

			st.event.Magnitude = magnitude
			st.event.PeakMagnitude = st.peakMagnitude
			st.event.Severity = severity
			st.event.LastNano = now
			updated = append(updated, st.event)
		}
	}
	return updated
}

// CloseAll closes every open event at the given time. Call at session end so
// conditions still active at the last frame get a definite range.
func (d *Detector) CloseAll(nowNano int64) {
	for key, st := range d.states {
		if st.event != nil {
			st.event.Closed = true
			if nowNano > st.event.LastNano {
				st.event.LastNano = nowNano
			}
		}
		delete(d.states, key)
	}
}

// DetectIncompleteROM grades a per-repetition range-of-motion shortfall for
// one joint's measurement series. Unlike the per-frame patterns it is a
// post-hoc rule: the shortfall only exists once the repetition is over.
// Poor-quality measurements are excluded from the achieved range.
func DetectIncompleteROM(series []*goniometry.JointMeasurement, targetROMDeg float64, cfg Config) []*Event {
	tc, ok := cfg[IncompleteROM]
	if !ok || targetROMDeg <= 0 {
		return nil
	}

	var (
		minAngle, maxAngle float64
		side               pose.Side
		startNano, endNano int64
		seen               bool
	)
	for _, m := range series {
		if m.Quality == goniometry.QualityPoor {
			continue
		}
		if !seen {
			minAngle, maxAngle = m.AngleDegrees, m.AngleDegrees
			startNano, side = m.TimestampNano, m.Side
			seen = true
		}
		if m.AngleDegrees < minAngle {
			minAngle = m.AngleDegrees
		}
		if m.AngleDegrees > maxAngle {
			maxAngle = m.AngleDegrees
		}
		endNano = m.TimestampNano
	}
	if !seen {
		// No trustworthy measurements: absence of data is not a shortfall.
		return nil
	}

	shortfall := targetROMDeg - (maxAngle - minAngle)
	severity, above := tc.Thresholds.Grade(shortfall)
	if !above {
		return nil
	}
	return []*Event{{
		ID:            uuid.NewString(),
		Type:          IncompleteROM,
		Side:          side,
		Severity:      severity,
		Magnitude:     shortfall,
		PeakMagnitude: shortfall,
		StartNano:     startNano,
		LastNano:      endNano,
		Closed:        true,
	}}
}
