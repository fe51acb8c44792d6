package compensation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
)

const stepNanos = int64(33 * time.Millisecond)

func testConfig(persistence time.Duration) Config {
	cfg := make(Config)
	for _, typ := range AllTypes() {
		cfg[typ] = TypeConfig{
			Thresholds:     SeverityThresholds{Minimal: 5, Mild: 10, Moderate: 20, Severe: 30},
			MinPersistence: persistence,
			RiskWeight:     1,
		}
	}
	return cfg
}

// trunkInputs builds one frame of detection input carrying only a trunk
// reading with the given lean from vertical.
func trunkInputs(t *testing.T, leanDeg float64, quality goniometry.Quality, tsNano int64) Inputs {
	t.Helper()
	f, err := pose.NewFrame(nil, tsNano, pose.ViewUnknown)
	require.NoError(t, err)
	return Inputs{
		Frame: f,
		Measurements: map[goniometry.JointID]*goniometry.JointMeasurement{
			goniometry.JointTrunk: {
				Joint:         goniometry.JointTrunk,
				Side:          pose.SideCenter,
				AngleDegrees:  180 - leanDeg,
				Quality:       quality,
				TimestampNano: tsNano,
			},
		},
	}
}

func TestDetectPersistenceDebounce(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(150*time.Millisecond), 0.3)

	// A 15° lean held from t=0. Frames land every 33ms: nothing may be
	// emitted until 150ms of continuous persistence has elapsed.
	var ts int64
	for i := 0; i < 4; i++ { // t = 0, 33, 66, 99ms
		updated := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts))
		assert.Empty(t, updated, "frame %d is inside the debounce window", i)
		ts += stepNanos
	}
	d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts)) // 132ms
	ts += stepNanos
	updated := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts)) // 165ms
	require.Len(t, updated, 1)

	ev := updated[0]
	assert.Equal(t, TrunkLean, ev.Type)
	assert.Equal(t, int64(0), ev.StartNano, "onset backdates to when the condition began")
	assert.GreaterOrEqual(t, ev.Duration(), 150*time.Millisecond)
	assert.Equal(t, SeverityMild, ev.Severity)
	assert.False(t, ev.Closed)
	assert.NotEmpty(t, ev.ID)
}

func TestDetectBriefConditionEmitsNothing(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(150*time.Millisecond), 0.3)

	// 100ms above threshold, then clear: no event may ever surface.
	var ts int64
	for i := 0; i < 4; i++ { // 0..99ms
		assert.Empty(t, d.Detect(trunkInputs(t, 12, goniometry.QualityGood, ts)))
		ts += stepNanos
	}
	for i := 0; i < 10; i++ {
		assert.Empty(t, d.Detect(trunkInputs(t, 0, goniometry.QualityGood, ts)))
		ts += stepNanos
	}
	assert.Empty(t, d.Events())
}

func TestDetectFlickerResetsPersistence(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(150*time.Millisecond), 0.3)

	// Above for 99ms, one clean frame, above for 99ms again: the window
	// restarts at the dip, so nothing fires.
	var ts int64
	for i := 0; i < 4; i++ {
		d.Detect(trunkInputs(t, 12, goniometry.QualityGood, ts))
		ts += stepNanos
	}
	d.Detect(trunkInputs(t, 1, goniometry.QualityGood, ts))
	ts += stepNanos
	for i := 0; i < 4; i++ {
		assert.Empty(t, d.Detect(trunkInputs(t, 12, goniometry.QualityGood, ts)))
		ts += stepNanos
	}
	assert.Empty(t, d.Events())
}

func TestDetectSeverityTransitionsInPlace(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(100*time.Millisecond), 0.3)

	// One continuous condition whose magnitude grows 7° → 15° → 25° → 35°.
	// A single event must track it, re-graded each frame, peak retained.
	var ts int64
	phases := []struct {
		lean float64
		want Severity
	}{
		{7, SeverityMinimal},
		{15, SeverityMild},
		{25, SeverityModerate},
		{35, SeveritySevere},
	}

	var id string
	for _, phase := range phases {
		var last *Event
		for i := 0; i < 6; i++ { // ~200ms per phase
			for _, ev := range d.Detect(trunkInputs(t, phase.lean, goniometry.QualityGood, ts)) {
				last = ev
			}
			ts += stepNanos
		}
		require.NotNil(t, last, "phase at %g° must have an emitted event", phase.lean)
		assert.Equal(t, phase.want, last.Severity)
		if id == "" {
			id = last.ID
		}
		assert.Equal(t, id, last.ID, "one continuous condition is one event")
	}

	require.Len(t, d.Events(), 1)
	ev := d.Events()[0]
	assert.Equal(t, 35.0, ev.PeakMagnitude)
	assert.Equal(t, SeveritySevere, ev.Severity)
}

func TestDetectClosesAndReopens(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(0), 0.3)

	var ts int64
	first := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts))
	require.Len(t, first, 1, "zero persistence emits immediately")
	ts += stepNanos

	// Drop below minimal: the event closes.
	d.Detect(trunkInputs(t, 2, goniometry.QualityGood, ts))
	assert.True(t, first[0].Closed)
	ts += stepNanos

	// A new excursion is a new event, not a reopened one.
	second := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts))
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Len(t, d.Events(), 2)
}

func TestDetectPoorQualityNeverFires(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(0), 0.3)

	// A huge apparent lean on a poor-quality reading must not register.
	var ts int64
	for i := 0; i < 10; i++ {
		assert.Empty(t, d.Detect(trunkInputs(t, 40, goniometry.QualityPoor, ts)))
		ts += stepNanos
	}
	assert.Empty(t, d.Events())
}

func TestDetectUnreadableFrameLeavesTrackerOpen(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(0), 0.3)

	var ts int64
	open := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts))
	require.Len(t, open, 1)
	lastSeen := open[0].LastNano
	ts += stepNanos

	// Poor-quality frames in the middle: the event neither updates nor
	// closes. Absence of data is not evidence of recovery.
	for i := 0; i < 3; i++ {
		d.Detect(trunkInputs(t, 0, goniometry.QualityPoor, ts))
		ts += stepNanos
	}
	assert.False(t, open[0].Closed)
	assert.Equal(t, lastSeen, open[0].LastNano)

	// Condition still present once readings return: same event continues.
	resumed := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, ts))
	require.Len(t, resumed, 1)
	assert.Equal(t, open[0].ID, resumed[0].ID)
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(0), 0.3)
	open := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, 0))
	require.Len(t, open, 1)

	end := int64(2 * time.Second)
	d.CloseAll(end)
	assert.True(t, open[0].Closed)
	assert.Equal(t, end, open[0].LastNano)

	// Idempotent on an empty tracker set.
	d.CloseAll(end + 1)
}

func TestReset(t *testing.T) {
	t.Parallel()

	d := NewDetector(testConfig(0), 0.3)
	open := d.Detect(trunkInputs(t, 15, goniometry.QualityGood, 0))
	require.Len(t, open, 1)

	d.Reset()
	assert.True(t, open[0].Closed)
	// Emitted history survives reset; only in-flight state is discarded.
	assert.Len(t, d.Events(), 1)
}

func TestDetectIncompleteROM(t *testing.T) {
	t.Parallel()

	cfg := testConfig(0)
	series := func(angles []float64, quality goniometry.Quality) []*goniometry.JointMeasurement {
		out := make([]*goniometry.JointMeasurement, len(angles))
		for i, a := range angles {
			out[i] = &goniometry.JointMeasurement{
				Joint:         goniometry.JointKneeRight,
				Side:          pose.SideRight,
				AngleDegrees:  a,
				Quality:       quality,
				TimestampNano: int64(i) * stepNanos,
			}
		}
		return out
	}

	t.Run("shortfall graded against ladder", func(t *testing.T) {
		t.Parallel()
		// Achieved 60° of a 90° target: 30° shortfall is severe on the 5/10/20/30 ladder.
		events := DetectIncompleteROM(series([]float64{180, 150, 120, 150, 180}, goniometry.QualityGood), 90, cfg)
		require.Len(t, events, 1)
		ev := events[0]
		assert.Equal(t, IncompleteROM, ev.Type)
		assert.Equal(t, pose.SideRight, ev.Side)
		assert.Equal(t, SeveritySevere, ev.Severity)
		assert.InDelta(t, 30, ev.Magnitude, 1e-9)
		assert.True(t, ev.Closed)
	})

	t.Run("full range is clean", func(t *testing.T) {
		t.Parallel()
		events := DetectIncompleteROM(series([]float64{180, 135, 90, 135, 180}, goniometry.QualityGood), 90, cfg)
		assert.Empty(t, events)
	})

	t.Run("poor-only series is not a shortfall", func(t *testing.T) {
		t.Parallel()
		events := DetectIncompleteROM(series([]float64{180, 180, 180}, goniometry.QualityPoor), 90, cfg)
		assert.Empty(t, events)
	})

	t.Run("no target no event", func(t *testing.T) {
		t.Parallel()
		events := DetectIncompleteROM(series([]float64{180, 180}, goniometry.QualityGood), 0, cfg)
		assert.Empty(t, events)
	})
}
