package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioassist/motioncore/internal/alignment"
	"github.com/physioassist/motioncore/internal/config"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
	"github.com/physioassist/motioncore/internal/session"
	"github.com/physioassist/motioncore/internal/store"
)

// newTestServer stands up a server over a temp database pre-loaded with one
// finalized session and a reference performance.
func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sum := &session.Summary{
		SessionID:   uuid.NewString(),
		ExerciseID:  "squat",
		PatientID:   "p1",
		Skill:       feedback.SkillBeginner,
		StartNano:   0,
		EndNano:     4_000_000_000,
		FrameCount:  4,
		Repetitions: 1,
		JointStats: map[goniometry.JointID]session.JointStats{
			goniometry.JointKneeRight: {Samples: 4, MinDeg: 90, MaxDeg: 180, MeanDeg: 135, StdDeg: 38, ROMDeg: 90},
		},
		Feedback: []feedback.Item{{MessageKey: feedback.PositiveReinforcementKey, Risk: feedback.RiskLow}},
		Series: map[goniometry.JointID][]*goniometry.JointMeasurement{
			goniometry.JointKneeRight: {
				{Joint: goniometry.JointKneeRight, Side: pose.SideRight, AngleDegrees: 180, Plane: goniometry.PlaneSagittal, Quality: goniometry.QualityGood, Confidence: 0.9, TimestampNano: 0},
				{Joint: goniometry.JointKneeRight, Side: pose.SideRight, AngleDegrees: 120, Plane: goniometry.PlaneSagittal, Quality: goniometry.QualityGood, Confidence: 0.9, TimestampNano: 1_000_000_000},
				{Joint: goniometry.JointKneeRight, Side: pose.SideRight, AngleDegrees: 90, Plane: goniometry.PlaneSagittal, Quality: goniometry.QualityGood, Confidence: 0.9, TimestampNano: 2_000_000_000},
				{Joint: goniometry.JointKneeRight, Side: pose.SideRight, AngleDegrees: 180, Plane: goniometry.PlaneSagittal, Quality: goniometry.QualityGood, Confidence: 0.9, TimestampNano: 3_000_000_000},
			},
		},
	}
	require.NoError(t, st.SaveSummary(sum))
	require.NoError(t, st.SaveReference("squat", map[goniometry.JointID][]float64{
		goniometry.JointKneeRight: {180, 135, 90, 135, 180, 180, 150, 120},
	}))

	server := NewServer(st, config.MustLoadDefaultConfig(), "", nil)
	ts := httptest.NewServer(server.ServeMux())
	t.Cleanup(ts.Close)
	return ts, sum.SessionID
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	var body map[string]string
	resp := getJSON(t, ts.URL+"/api/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	ts, id := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		t.Parallel()
		var rows []store.SessionRow
		resp := getJSON(t, ts.URL+"/api/sessions", &rows)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, rows, 1)
		assert.Equal(t, id, rows[0].SessionID)
	})

	t.Run("show", func(t *testing.T) {
		t.Parallel()
		var body struct {
			Session    store.SessionRow                          `json:"session"`
			JointStats map[goniometry.JointID]session.JointStats `json:"joint_stats"`
		}
		resp := getJSON(t, ts.URL+"/api/session?id="+id, &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "squat", body.Session.ExerciseID)
		assert.Equal(t, 90.0, body.JointStats[goniometry.JointKneeRight].ROMDeg)
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()
		resp := getJSON(t, ts.URL+"/api/session", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		resp := getJSON(t, ts.URL+"/api/session?id=nope", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("measurements", func(t *testing.T) {
		t.Parallel()
		var ms []goniometry.JointMeasurement
		resp := getJSON(t, ts.URL+"/api/session/measurements?id="+id+"&joint=knee_right", &ms)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, ms, 4)
		assert.Equal(t, 180.0, ms[0].AngleDegrees)
	})

	t.Run("feedback", func(t *testing.T) {
		t.Parallel()
		var items []feedback.Item
		resp := getJSON(t, ts.URL+"/api/session/feedback?id="+id, &items)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, items, 1)
		assert.Equal(t, feedback.PositiveReinforcementKey, items[0].MessageKey)
	})
}

func TestAlignmentEndpoint(t *testing.T) {
	t.Parallel()

	ts, id := newTestServer(t)

	t.Run("constant", func(t *testing.T) {
		t.Parallel()
		var amap alignment.Map
		resp := getJSON(t, ts.URL+"/api/session/alignment?id="+id+"&joint=knee_right", &amap)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, amap.Pairs, 4)
		assert.True(t, amap.Monotonic())
		assert.Equal(t, 0, amap.Reference(0))
		assert.Equal(t, 6, amap.Reference(3), "4 patient frames over 8 reference frames")
	})

	t.Run("elastic", func(t *testing.T) {
		t.Parallel()
		var amap alignment.Map
		resp := getJSON(t, ts.URL+"/api/session/alignment?id="+id+"&joint=knee_right&mode=elastic", &amap)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, amap.Pairs, 4)
		assert.True(t, amap.Monotonic())
	})

	t.Run("bad mode", func(t *testing.T) {
		t.Parallel()
		resp := getJSON(t, ts.URL+"/api/session/alignment?id="+id+"&joint=knee_right&mode=psychic", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing joint", func(t *testing.T) {
		t.Parallel()
		resp := getJSON(t, ts.URL+"/api/session/alignment?id="+id, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReportEndpoints(t *testing.T) {
	t.Parallel()

	ts, id := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/session/report?id=" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(ts.URL + "/api/session/trace.png?id=" + id + "&joint=knee_right")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestConfigEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("show", func(t *testing.T) {
		t.Parallel()
		ts, _ := newTestServer(t)
		resp := getJSON(t, ts.URL+"/api/config", &config.ClinicalConfig{})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("reload requires POST", func(t *testing.T) {
		t.Parallel()
		ts, _ := newTestServer(t)
		resp := getJSON(t, ts.URL+"/api/config/reload", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("reload swaps validated config and rejects bad files", func(t *testing.T) {
		t.Parallel()

		st, err := store.Open(filepath.Join(t.TempDir(), "reload.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })

		cfgPath := filepath.Join(t.TempDir(), "clinical.json")
		require.NoError(t, os.WriteFile(cfgPath, []byte(`{"quality_good_min": 0.8}`), 0o644))

		var reloaded *config.ClinicalConfig
		server := NewServer(st, config.MustLoadDefaultConfig(), cfgPath, func(c *config.ClinicalConfig) { reloaded = c })
		hts := httptest.NewServer(server.ServeMux())
		t.Cleanup(hts.Close)

		resp, err := http.Post(hts.URL+"/api/config/reload", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, reloaded)
		assert.Equal(t, 0.8, server.Config().GetQualityGoodMin())

		// A file that fails validation leaves the running config untouched.
		require.NoError(t, os.WriteFile(cfgPath, []byte(`{"quality_good_min": 0.2}`), 0o644))
		resp, err = http.Post(hts.URL+"/api/config/reload", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, 0.8, server.Config().GetQualityGoodMin())
	})
}
