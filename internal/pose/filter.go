package pose

import "math"

// FilterParams tunes the adaptive low-pass (One Euro) smoothing applied to
// raw landmark positions. The defaults are the clinically validated values
// shipped in config/clinical.defaults.json; see internal/config.
type FilterParams struct {
	// MinCutoffHz is the cutoff frequency applied when the landmark is
	// static. Lower values smooth harder.
	MinCutoffHz float64
	// Beta scales the cutoff with instantaneous speed so fast motion tracks
	// with low lag.
	Beta float64
	// DerivCutoffHz is the cutoff used to smooth the speed estimate itself.
	DerivCutoffHz float64
	// MinVisibility excludes low-confidence landmarks from the filter update
	// so occluded observations cannot corrupt filter state.
	MinVisibility float64
	// MaxGapSeconds caps the effective dt after an occlusion gap, bounding
	// the discontinuity on the recovery frame.
	MaxGapSeconds float64
}

// DefaultFilterParams returns the stock One Euro tuning.
func DefaultFilterParams() FilterParams {
	return FilterParams{
		MinCutoffHz:   1.0,
		Beta:          0.007,
		DerivCutoffHz: 1.0,
		MinVisibility: 0.5,
		MaxGapSeconds: 0.1,
	}
}

// axisState is one scalar One Euro filter: the smoothed value and the
// smoothed derivative estimate.
type axisState struct {
	value float64
	deriv float64
}

// landmarkState holds filter state for one landmark. lastNanos is the
// timestamp of the last accepted (visible) update, which survives occlusion
// so recovery resumes from prior state instead of restarting.
type landmarkState struct {
	initialized bool
	lastNanos   int64
	x, y, z     axisState
}

// FilterBank smooths every landmark of a frame stream, one independent filter
// per landmark and axis. It is session-scoped mutable state: not safe for
// concurrent use, one instance per subject, reset at session boundaries.
type FilterBank struct {
	params FilterParams
	states [NumLandmarks]landmarkState
}

// NewFilterBank creates a bank with all filters uninitialized.
func NewFilterBank(params FilterParams) *FilterBank {
	return &FilterBank{params: params}
}

// Reset discards all filter state. Call at session start.
func (b *FilterBank) Reset() {
	b.states = [NumLandmarks]landmarkState{}
}

// SetParams swaps tuning parameters without touching filter state, so a hot
// config reload does not introduce a discontinuity.
func (b *FilterBank) SetParams(params FilterParams) {
	b.params = params
}

func smoothingAlpha(cutoffHz, dt float64) float64 {
	tau := 1.0 / (2 * math.Pi * cutoffHz)
	return 1.0 / (1.0 + tau/dt)
}

func (s *axisState) update(raw, dt float64, p FilterParams) float64 {
	dRaw := (raw - s.value) / dt
	aDeriv := smoothingAlpha(p.DerivCutoffHz, dt)
	s.deriv = aDeriv*dRaw + (1-aDeriv)*s.deriv

	cutoff := p.MinCutoffHz + p.Beta*math.Abs(s.deriv)
	a := smoothingAlpha(cutoff, dt)
	s.value = a*raw + (1-a)*s.value
	return s.value
}

// SmoothLandmark filters one landmark observation and returns the smoothed
// position. Observations below the visibility threshold leave filter state
// untouched and return the last smoothed position (or the raw position if the
// filter has never initialized).
func (b *FilterBank) SmoothLandmark(id LandmarkID, raw Vec3, confidence float64, timestampNano int64) Vec3 {
	if !id.Valid() {
		return raw
	}
	st := &b.states[id]

	if confidence < b.params.MinVisibility {
		if st.initialized {
			return Vec3{X: st.x.value, Y: st.y.value, Z: st.z.value}
		}
		return raw
	}

	if !st.initialized {
		st.initialized = true
		st.lastNanos = timestampNano
		st.x = axisState{value: raw.X}
		st.y = axisState{value: raw.Y}
		st.z = axisState{value: raw.Z}
		return raw
	}

	dt := float64(timestampNano-st.lastNanos) / 1e9
	if dt <= 0 {
		// Non-monotonic or duplicate timestamp: keep prior output.
		return Vec3{X: st.x.value, Y: st.y.value, Z: st.z.value}
	}
	if dt > b.params.MaxGapSeconds {
		dt = b.params.MaxGapSeconds
	}
	st.lastNanos = timestampNano

	return Vec3{
		X: st.x.update(raw.X, dt, b.params),
		Y: st.y.update(raw.Y, dt, b.params),
		Z: st.z.update(raw.Z, dt, b.params),
	}
}

// Smooth returns a new frame whose visible landmarks have been run through
// the bank. Confidences, timestamp, and view tag are carried over unchanged.
func (b *FilterBank) Smooth(frame *Frame) *Frame {
	out := *frame
	for i := range out.Landmarks {
		lm := &out.Landmarks[i]
		if !lm.Present() {
			continue
		}
		lm.Position = b.SmoothLandmark(lm.ID, lm.Position, lm.Confidence, frame.TimestampNano)
	}
	return &out
}
