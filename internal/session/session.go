// Package session owns the frame-synchronous measurement pipeline: each pose
// frame is filtered, measured, and checked for compensations before the next
// frame is accepted. A Session is the unit of mutable state: it owns the
// smoothing filter bank and the persistence trackers, is never written
// concurrently, and is reset only at session boundaries. Multi-subject
// parallelism means one Session per subject.
package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/physioassist/motioncore/internal/compensation"
	"github.com/physioassist/motioncore/internal/config"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
)

// Options identifies what a session measures and for whom.
type Options struct {
	ExerciseID string
	PatientID  string
	Skill      feedback.SkillLevel
	// PrimaryJoint drives repetition segmentation and survives degraded
	// mode. Defaults to the right knee.
	PrimaryJoint goniometry.JointID
}

// FrameResult is what one processed frame produced.
type FrameResult struct {
	Measurements []*goniometry.JointMeasurement
	Events       []*compensation.Event
	Degraded     bool
}

// JointStats aggregates one joint's angle series over the session.
type JointStats struct {
	Samples int     `json:"samples"`
	MinDeg  float64 `json:"min_deg"`
	MaxDeg  float64 `json:"max_deg"`
	MeanDeg float64 `json:"mean_deg"`
	StdDeg  float64 `json:"std_deg"`
	ROMDeg  float64 `json:"rom_deg"`
}

// Summary is the finalized session record.
type Summary struct {
	SessionID      string                              `json:"session_id"`
	ExerciseID     string                              `json:"exercise_id"`
	PatientID      string                              `json:"patient_id"`
	Skill          feedback.SkillLevel                 `json:"skill"`
	StartNano      int64                               `json:"start_nanos"`
	EndNano        int64                               `json:"end_nanos"`
	FrameCount     int                                 `json:"frame_count"`
	DegradedFrames int                                 `json:"degraded_frames"`
	Repetitions    int                                 `json:"repetitions"`
	JointStats     map[goniometry.JointID]JointStats   `json:"joint_stats"`
	Events         []*compensation.Event               `json:"events"`
	Feedback       []feedback.Item                     `json:"feedback"`
	Series         map[goniometry.JointID][]*goniometry.JointMeasurement `json:"-"`
}

// Session runs the per-frame pipeline for one subject.
type Session struct {
	ID   string
	opts Options

	cfg      *config.ClinicalConfig
	filters  *pose.FilterBank
	engine   *goniometry.Engine
	detector *compensation.Detector

	jointOrder []goniometry.JointID
	series     map[goniometry.JointID][]*goniometry.JointMeasurement
	lastAngles map[goniometry.JointID]float64

	frameCount     int
	degradedFrames int
	startNano      int64
	lastNano       int64
	finalized      bool

	// Budget watchdog state. Consecutive over-budget frames push the session
	// into degraded mode (reduced joint set, wider smoothing); sustained
	// under-budget frames restore full fidelity.
	degraded    bool
	overBudget  int
	underBudget int

	// now is injectable so tests can drive the budget watchdog.
	now func() time.Time
}

// New creates a session from validated configuration.
func New(cfg *config.ClinicalConfig, opts Options) *Session {
	if opts.PrimaryJoint == "" {
		opts.PrimaryJoint = goniometry.JointKneeRight
	}
	if opts.Skill == "" {
		opts.Skill = feedback.SkillBeginner
	}

	engine := goniometry.NewEngineWithTable(cfg.GetEngineConfig(), cfg.GetJointTable())
	order := engine.Joints()
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	return &Session{
		ID:         uuid.NewString(),
		opts:       opts,
		cfg:        cfg,
		filters:    pose.NewFilterBank(cfg.GetFilterParams()),
		engine:     engine,
		detector:   compensation.NewDetector(cfg.GetCompensationConfig(), cfg.GetMinLandmarkConfidence()),
		jointOrder: order,
		series:     make(map[goniometry.JointID][]*goniometry.JointMeasurement),
		lastAngles: make(map[goniometry.JointID]float64),
		now:        time.Now,
	}
}

// Reset discards all in-flight state (filter bank, persistence trackers,
// series, budget counters) without touching already-emitted results held by
// callers. The session keeps its identity.
func (s *Session) Reset() {
	s.filters.Reset()
	s.detector.Reset()
	s.series = make(map[goniometry.JointID][]*goniometry.JointMeasurement)
	s.lastAngles = make(map[goniometry.JointID]float64)
	s.frameCount = 0
	s.degradedFrames = 0
	s.startNano = 0
	s.lastNano = 0
	s.degraded = false
	s.overBudget = 0
	s.underBudget = 0
	s.finalized = false
}

// ApplyConfig hot-swaps clinical tuning mid-session. Filter and tracker
// state survive so the swap introduces no discontinuity.
func (s *Session) ApplyConfig(cfg *config.ClinicalConfig) {
	s.cfg = cfg
	s.filters.SetParams(s.effectiveFilterParams())
	s.detector.SetConfig(cfg.GetCompensationConfig())
	s.engine = goniometry.NewEngineWithTable(cfg.GetEngineConfig(), cfg.GetJointTable())
}

// effectiveFilterParams widens the smoothing window (halves the static
// cutoff) while degraded.
func (s *Session) effectiveFilterParams() pose.FilterParams {
	p := s.cfg.GetFilterParams()
	if s.degraded {
		p.MinCutoffHz *= 0.5
	}
	return p
}

// reducedJointSet is what degraded mode still measures: the primary joint
// and the trunk.
func (s *Session) reducedJointSet() []goniometry.JointID {
	return []goniometry.JointID{s.opts.PrimaryJoint, goniometry.JointTrunk}
}

// ProcessFrame runs filter → measure → detect for one frame. Frames must
// arrive in timestamp order; a non-monotonic frame is rejected without
// touching pipeline state.
func (s *Session) ProcessFrame(frame *pose.Frame) (*FrameResult, error) {
	if s.finalized {
		return nil, fmt.Errorf("session %s already finalized", s.ID)
	}
	if s.frameCount > 0 && frame.TimestampNano <= s.lastNano {
		return nil, fmt.Errorf("non-monotonic frame timestamp %d (last %d)", frame.TimestampNano, s.lastNano)
	}

	started := s.now()

	smoothed := s.filters.Smooth(frame)

	joints := s.jointOrder
	if s.degraded {
		joints = s.reducedJointSet()
	}

	byJoint := make(map[goniometry.JointID]*goniometry.JointMeasurement, len(joints))
	measurements := make([]*goniometry.JointMeasurement, 0, len(joints))
	for _, id := range joints {
		m, err := s.engine.Measure(id, smoothed)
		if err != nil {
			// Gated, view-restricted, or unmeasurable joints are excluded
			// from aggregation; the frame continues.
			continue
		}
		byJoint[id] = m
		measurements = append(measurements, m)
		s.series[id] = append(s.series[id], m)
		s.lastAngles[id] = m.AngleDegrees
	}

	events := s.detector.Detect(compensation.Inputs{Frame: smoothed, Measurements: byJoint})

	if s.frameCount == 0 {
		s.startNano = frame.TimestampNano
	}
	s.lastNano = frame.TimestampNano
	s.frameCount++
	if s.degraded {
		s.degradedFrames++
	}

	s.updateBudget(s.now().Sub(started))

	return &FrameResult{Measurements: measurements, Events: events, Degraded: s.degraded}, nil
}

// updateBudget advances the watchdog counters and toggles degraded mode.
func (s *Session) updateBudget(elapsed time.Duration) {
	budget := s.cfg.GetFrameBudget()
	if elapsed > budget {
		s.overBudget++
		s.underBudget = 0
	} else {
		s.underBudget++
		s.overBudget = 0
	}

	switch {
	case !s.degraded && s.overBudget >= s.cfg.GetBudgetBreachFrames():
		s.degraded = true
		s.overBudget = 0
		s.filters.SetParams(s.effectiveFilterParams())
	case s.degraded && s.underBudget >= s.cfg.GetBudgetRecoveryFrames():
		s.degraded = false
		s.underBudget = 0
		s.filters.SetParams(s.effectiveFilterParams())
	}
}

// Degraded reports whether the session is currently in reduced-fidelity mode.
func (s *Session) Degraded() bool { return s.degraded }

// AngleVectors returns one angle vector per processed frame, joints in
// stable sorted order, for elastic alignment. Only joints that produced at
// least one reading contribute a column; frames without a reading for a
// joint carry its nearest known angle (the first observation before it
// exists, the last one after) so no column ever holds a placeholder zero.
func (s *Session) AngleVectors() [][]float64 {
	joints := make([]goniometry.JointID, 0, len(s.series))
	for _, id := range s.jointOrder {
		if len(s.series[id]) > 0 {
			joints = append(joints, id)
		}
	}

	// Rebuild per-frame rows from the series by timestamp.
	type row struct {
		angles map[goniometry.JointID]float64
	}
	frames := make(map[int64]*row)
	var order []int64
	for _, id := range joints {
		for _, m := range s.series[id] {
			r, ok := frames[m.TimestampNano]
			if !ok {
				r = &row{angles: make(map[goniometry.JointID]float64)}
				frames[m.TimestampNano] = r
				order = append(order, m.TimestampNano)
			}
			r.angles[id] = m.AngleDegrees
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	last := make(map[goniometry.JointID]float64, len(joints))
	for _, id := range joints {
		last[id] = s.series[id][0].AngleDegrees
	}
	out := make([][]float64, 0, len(order))
	for _, ts := range order {
		vec := make([]float64, len(joints))
		for k, id := range joints {
			if a, ok := frames[ts].angles[id]; ok {
				last[id] = a
			}
			vec[k] = last[id]
		}
		out = append(out, vec)
	}
	return out
}

// Finalize closes the session: open compensation events get a definite end,
// incomplete-ROM shortfalls are graded per repetition, joint statistics are
// aggregated, and feedback is prioritized. A finalized session accepts no
// further frames.
func (s *Session) Finalize() *Summary {
	s.finalized = true
	s.detector.CloseAll(s.lastNano)

	events := s.detector.Events()
	compCfg := s.cfg.GetCompensationConfig()

	reps := s.countRepetitions()

	for _, id := range s.jointOrder {
		target, ok := s.cfg.GetTargetROM(id)
		if !ok {
			continue
		}
		if id == s.opts.PrimaryJoint && len(reps) > 0 {
			for _, seg := range reps {
				events = append(events, compensation.DetectIncompleteROM(seg, target, compCfg)...)
			}
			continue
		}
		events = append(events, compensation.DetectIncompleteROM(s.series[id], target, compCfg)...)
	}

	stats := make(map[goniometry.JointID]JointStats, len(s.series))
	for id, ms := range s.series {
		angles := make([]float64, 0, len(ms))
		for _, m := range ms {
			if m.Quality == goniometry.QualityPoor {
				continue
			}
			angles = append(angles, m.AngleDegrees)
		}
		if len(angles) == 0 {
			continue
		}
		js := JointStats{Samples: len(angles), MinDeg: angles[0], MaxDeg: angles[0]}
		for _, a := range angles {
			if a < js.MinDeg {
				js.MinDeg = a
			}
			if a > js.MaxDeg {
				js.MaxDeg = a
			}
		}
		js.MeanDeg = stat.Mean(angles, nil)
		if len(angles) > 1 {
			js.StdDeg = stat.StdDev(angles, nil)
		}
		js.ROMDeg = js.MaxDeg - js.MinDeg
		stats[id] = js
	}

	items := feedback.Prioritize(events, s.opts.Skill, compCfg, s.cfg.GetFeedbackConfig())

	return &Summary{
		SessionID:      s.ID,
		ExerciseID:     s.opts.ExerciseID,
		PatientID:      s.opts.PatientID,
		Skill:          s.opts.Skill,
		StartNano:      s.startNano,
		EndNano:        s.lastNano,
		FrameCount:     s.frameCount,
		DegradedFrames: s.degradedFrames,
		Repetitions:    len(reps),
		JointStats:     stats,
		Events:         events,
		Feedback:       items,
		Series:         s.series,
	}
}

// countRepetitions segments the primary joint's angle trace into repetitions
// by hysteresis crossings around the midpoint of its observed range. One
// repetition is a full descent-and-return cycle. Best effort: flat traces
// count zero reps.
func (s *Session) countRepetitions() [][]*goniometry.JointMeasurement {
	series := s.series[s.opts.PrimaryJoint]
	if len(series) < 3 {
		return nil
	}

	minA, maxA := series[0].AngleDegrees, series[0].AngleDegrees
	for _, m := range series {
		if m.AngleDegrees < minA {
			minA = m.AngleDegrees
		}
		if m.AngleDegrees > maxA {
			maxA = m.AngleDegrees
		}
	}
	rom := maxA - minA
	if rom < 10 {
		// Too flat to segment meaningfully.
		return nil
	}

	mid := minA + rom/2
	hysteresis := rom * 0.1
	lower, upper := mid-hysteresis, mid+hysteresis

	var (
		segments [][]*goniometry.JointMeasurement
		current  []*goniometry.JointMeasurement
		below    bool
		started  bool
	)
	for _, m := range series {
		current = append(current, m)
		switch {
		case !below && m.AngleDegrees < lower:
			below = true
			started = true
		case below && m.AngleDegrees > upper:
			below = false
			if started {
				segments = append(segments, current)
				current = nil
			}
		}
	}
	return segments
}
