package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioassist/motioncore/internal/compensation"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
	"github.com/physioassist/motioncore/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleSummary() *session.Summary {
	m := func(angle float64, ts int64) *goniometry.JointMeasurement {
		return &goniometry.JointMeasurement{
			Joint:         goniometry.JointKneeRight,
			Side:          pose.SideRight,
			AngleDegrees:  angle,
			Plane:         goniometry.PlaneSagittal,
			Quality:       goniometry.QualityGood,
			Confidence:    0.9,
			TimestampNano: ts,
		}
	}
	return &session.Summary{
		SessionID:   uuid.NewString(),
		ExerciseID:  "squat",
		PatientID:   "p1",
		Skill:       feedback.SkillIntermediate,
		StartNano:   1_000_000,
		EndNano:     5_000_000,
		FrameCount:  3,
		Repetitions: 1,
		JointStats: map[goniometry.JointID]session.JointStats{
			goniometry.JointKneeRight: {Samples: 3, MinDeg: 95, MaxDeg: 180, MeanDeg: 151.6, StdDeg: 40.2, ROMDeg: 85},
		},
		Events: []*compensation.Event{{
			ID:            uuid.NewString(),
			Type:          compensation.KneeValgus,
			Side:          pose.SideRight,
			Severity:      compensation.SeverityModerate,
			Magnitude:     16,
			PeakMagnitude: 18,
			StartNano:     2_000_000,
			LastNano:      3_000_000,
			Closed:        true,
		}},
		Feedback: []feedback.Item{
			{MessageKey: "knee_valgus.right", Priority: 425, Risk: feedback.RiskHigh,
				Type: compensation.KneeValgus, Side: pose.SideRight,
				Severity: compensation.SeverityModerate, Frequency: 1},
		},
		Series: map[goniometry.JointID][]*goniometry.JointMeasurement{
			goniometry.JointKneeRight: {m(180, 1_000_000), m(95, 3_000_000), m(180, 5_000_000)},
		},
	}
}

func TestSaveAndLoadSummary(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	sum := sampleSummary()
	require.NoError(t, st.SaveSummary(sum))

	t.Run("session row", func(t *testing.T) {
		row, err := st.GetSession(sum.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "squat", row.ExerciseID)
		assert.Equal(t, "p1", row.PatientID)
		assert.Equal(t, feedback.SkillIntermediate, row.Skill)
		assert.Equal(t, 3, row.FrameCount)
		assert.Equal(t, 1, row.Repetitions)
	})

	t.Run("measurements", func(t *testing.T) {
		ms, err := st.Measurements(sum.SessionID, goniometry.JointKneeRight)
		require.NoError(t, err)
		require.Len(t, ms, 3)
		assert.Equal(t, 180.0, ms[0].AngleDegrees)
		assert.Equal(t, 95.0, ms[1].AngleDegrees, "timestamp order")
		assert.Equal(t, goniometry.QualityGood, ms[0].Quality)
		assert.Equal(t, pose.SideRight, ms[0].Side)

		// Unknown joint filter yields an empty series, not an error.
		none, err := st.Measurements(sum.SessionID, goniometry.JointElbowLeft)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("events", func(t *testing.T) {
		events, err := st.Events(sum.SessionID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		ev := events[0]
		assert.Equal(t, compensation.KneeValgus, ev.Type)
		assert.Equal(t, compensation.SeverityModerate, ev.Severity)
		assert.Equal(t, 18.0, ev.PeakMagnitude)
		assert.Equal(t, time.Millisecond, ev.Duration())
		assert.True(t, ev.Closed)
	})

	t.Run("feedback", func(t *testing.T) {
		items, err := st.Feedback(sum.SessionID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "knee_valgus.right", items[0].MessageKey)
		assert.Equal(t, feedback.RiskHigh, items[0].Risk)
	})

	t.Run("joint stats", func(t *testing.T) {
		stats, err := st.JointStats(sum.SessionID)
		require.NoError(t, err)
		require.Contains(t, stats, goniometry.JointKneeRight)
		assert.Equal(t, 85.0, stats[goniometry.JointKneeRight].ROMDeg)
	})
}

func TestSaveSummaryDuplicateRollsBack(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	sum := sampleSummary()
	require.NoError(t, st.SaveSummary(sum))

	// Same session id again: the primary key rejects it and nothing from the
	// second attempt persists.
	err := st.SaveSummary(sum)
	assert.Error(t, err)

	ms, err := st.Measurements(sum.SessionID, goniometry.JointKneeRight)
	require.NoError(t, err)
	assert.Len(t, ms, 3)
}

func TestListSessionsNewestFirst(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)

	older := sampleSummary()
	older.StartNano = 1_000
	newer := sampleSummary()
	newer.StartNano = 2_000
	require.NoError(t, st.SaveSummary(older))
	require.NoError(t, st.SaveSummary(newer))

	rows, err := st.ListSessions()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.SessionID, rows[0].SessionID)
	assert.Equal(t, older.SessionID, rows[1].SessionID)
}

func TestGetSessionMissing(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	_, err := st.GetSession("no-such-session")
	assert.Error(t, err)
}

func TestReferenceRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	series := map[goniometry.JointID][]float64{
		goniometry.JointKneeRight: {180, 150, 120, 90, 120, 150, 180},
		goniometry.JointTrunk:     {180, 178, 176, 175, 176, 178, 180},
	}
	require.NoError(t, st.SaveReference("squat", series))

	loaded, err := st.LoadReference("squat")
	require.NoError(t, err)
	assert.Equal(t, series, loaded)

	// Saving again replaces, not appends.
	shorter := map[goniometry.JointID][]float64{goniometry.JointKneeRight: {180, 90, 180}}
	require.NoError(t, st.SaveReference("squat", shorter))
	loaded, err = st.LoadReference("squat")
	require.NoError(t, err)
	assert.Equal(t, shorter, loaded)

	// Unknown exercise yields an empty map.
	empty, err := st.LoadReference("deadlift")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMigrateVersion(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	version, dirty, err := st.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}
