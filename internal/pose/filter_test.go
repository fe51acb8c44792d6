package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameNanos = int64(33e6) // ~30fps

func TestFilterConstantSignalIdempotent(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	target := Vec3{X: 0.4, Y: 0.6, Z: 0.1}

	var out Vec3
	ts := int64(0)
	for i := 0; i < 200; i++ {
		ts += frameNanos
		out = bank.SmoothLandmark(LeftKnee, target, 0.9, ts)
	}

	// Converged: further constant input must not move the output.
	ts += frameNanos
	next := bank.SmoothLandmark(LeftKnee, target, 0.9, ts)
	assert.InDelta(t, out.X, next.X, 1e-9)
	assert.InDelta(t, out.Y, next.Y, 1e-9)
	assert.InDelta(t, out.Z, next.Z, 1e-9)
	assert.InDelta(t, target.X, next.X, 1e-3)
}

func TestFilterDampensJitter(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	ts := int64(0)

	// Alternate ±0.05 around a fixed point; smoothed output must swing less
	// than the raw signal.
	base := 0.5
	var minOut, maxOut float64 = 1, 0
	for i := 0; i < 100; i++ {
		ts += frameNanos
		jitter := 0.05
		if i%2 == 0 {
			jitter = -0.05
		}
		out := bank.SmoothLandmark(Nose, Vec3{X: base + jitter}, 0.9, ts)
		if i > 10 {
			minOut = math.Min(minOut, out.X)
			maxOut = math.Max(maxOut, out.X)
		}
	}
	assert.Less(t, maxOut-minOut, 0.05, "smoothed swing should be well under the raw 0.1 swing")
}

func TestFilterTracksFastMotion(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	ts := int64(0)

	// A fast ramp: the adaptive cutoff should keep lag small.
	var out Vec3
	x := 0.0
	for i := 0; i < 60; i++ {
		ts += frameNanos
		x += 0.02 // ~0.6 units/s
		out = bank.SmoothLandmark(RightWrist, Vec3{X: x}, 0.9, ts)
	}
	assert.InDelta(t, x, out.X, 0.15, "lag under fast motion stays bounded")
}

func TestFilterOcclusionRecovery(t *testing.T) {
	t.Parallel()

	params := DefaultFilterParams()
	bank := NewFilterBank(params)
	ts := int64(0)

	pos := Vec3{X: 0.5, Y: 0.5}
	for i := 0; i < 30; i++ {
		ts += frameNanos
		bank.SmoothLandmark(LeftAnkle, pos, 0.9, ts)
	}

	// Ten frames of confidence 0: state must be preserved, not updated.
	var during Vec3
	for i := 0; i < 10; i++ {
		ts += frameNanos
		during = bank.SmoothLandmark(LeftAnkle, Vec3{X: 99, Y: 99}, 0.0, ts)
	}
	assert.InDelta(t, 0.5, during.X, 1e-6, "occluded frames must return prior state")

	// Recovery at confidence 0.9 near the old position: the discontinuity on
	// the recovery frame is bounded because dt is capped at MaxGapSeconds.
	ts += frameNanos
	recovered := bank.SmoothLandmark(LeftAnkle, Vec3{X: 0.52, Y: 0.5}, 0.9, ts)
	jump := math.Abs(recovered.X - during.X)
	assert.Less(t, jump, 0.02, "recovery frame discontinuity must stay within bound")
}

func TestFilterBelowVisibilityNeverInitializes(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	raw := Vec3{X: 0.3}
	out := bank.SmoothLandmark(Nose, raw, 0.1, frameNanos)
	assert.Equal(t, raw, out, "uninitialized filter passes raw through for invisible landmarks")
}

func TestFilterReset(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	ts := int64(0)
	for i := 0; i < 20; i++ {
		ts += frameNanos
		bank.SmoothLandmark(LeftHip, Vec3{X: 0.7}, 0.9, ts)
	}
	bank.Reset()

	// After reset the first sample re-initializes: output equals raw.
	out := bank.SmoothLandmark(LeftHip, Vec3{X: 0.1}, 0.9, ts+frameNanos)
	assert.InDelta(t, 0.1, out.X, 1e-9)
}

func TestFilterNonMonotonicTimestamp(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	first := bank.SmoothLandmark(Nose, Vec3{X: 0.5}, 0.9, 100*frameNanos)
	require.InDelta(t, 0.5, first.X, 1e-9)

	// Same timestamp again: state must not be corrupted by dt=0.
	out := bank.SmoothLandmark(Nose, Vec3{X: 0.9}, 0.9, 100*frameNanos)
	assert.False(t, math.IsNaN(out.X))
	assert.InDelta(t, 0.5, out.X, 1e-9)
}

func TestSmoothFrameCarriesMetadata(t *testing.T) {
	t.Parallel()

	bank := NewFilterBank(DefaultFilterParams())
	frame, err := NewFrame([]Landmark{
		{ID: Nose, Position: Vec3{X: 0.5}, Confidence: 0.9},
	}, frameNanos, ViewFrontal)
	require.NoError(t, err)

	out := bank.Smooth(frame)
	assert.Equal(t, frame.TimestampNano, out.TimestampNano)
	assert.Equal(t, ViewFrontal, out.View)
	assert.Equal(t, 0.9, out.Landmark(Nose).Confidence)
	// The input frame is immutable: smoothing returns a copy.
	assert.NotSame(t, frame, out)
}
