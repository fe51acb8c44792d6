package goniometry

import (
	"errors"
	"fmt"

	"github.com/physioassist/motioncore/internal/pose"
)

// Quality classifies how trustworthy a measurement is, derived from the
// minimum confidence of the contributing landmarks.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// JointMeasurement is one joint-angle reading for one frame. It is an
// immutable record: downstream consumers (compensation detection, storage,
// reporting) never write back into it.
type JointMeasurement struct {
	Joint         JointID   `json:"joint"`
	Side          pose.Side `json:"side"`
	AngleDegrees  float64   `json:"angle_degrees"`
	Plane         PlaneName `json:"plane"`
	Quality       Quality   `json:"quality"`
	Confidence    float64   `json:"confidence"`
	Fallback      bool      `json:"fallback,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	TimestampNano int64     `json:"timestamp_nanos"`
}

// Measurement skip/failure sentinels. Gated and view-mismatch frames are
// expected in normal operation and excluded from aggregation; insufficient
// data means no viable fallback existed either.
var (
	ErrUnknownJoint     = errors.New("goniometry: joint not in definition table")
	ErrOutOfGate        = errors.New("goniometry: gating joint outside tolerance band")
	ErrViewMismatch     = errors.New("goniometry: joint not measurable from capture view")
	ErrInsufficientData = errors.New("goniometry: landmarks missing with no viable fallback")
)

// EngineConfig carries the tunable thresholds of the measurement engine.
// Values come from internal/config; zero values are replaced by defaults.
type EngineConfig struct {
	// QualityGoodMin and QualityFairMin grade measurements by minimum
	// contributing confidence: >= good → good, >= fair → fair, else poor.
	QualityGoodMin float64
	QualityFairMin float64
	// MinLandmarkConfidence is the floor below which a landmark is treated
	// as unusable for measurement.
	MinLandmarkConfidence float64
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.QualityGoodMin == 0 {
		c.QualityGoodMin = 0.75
	}
	if c.QualityFairMin == 0 {
		c.QualityFairMin = 0.60
	}
	if c.MinLandmarkConfidence == 0 {
		c.MinLandmarkConfidence = 0.30
	}
	return c
}

// Engine evaluates the closed joint-definition table against pose frames.
// It holds no per-frame state and is safe to share across sessions.
type Engine struct {
	joints map[JointID]JointDefinition
	cfg    EngineConfig
}

// NewEngine creates an engine over the default joint table.
func NewEngine(cfg EngineConfig) *Engine {
	return NewEngineWithTable(cfg, DefaultJointTable())
}

// NewEngineWithTable creates an engine over a custom joint table, used by
// tests and by configs that restrict the joint set.
func NewEngineWithTable(cfg EngineConfig, table map[JointID]JointDefinition) *Engine {
	return &Engine{joints: table, cfg: cfg.withDefaults()}
}

// Joints returns the ids of every joint the engine can measure.
func (e *Engine) Joints() []JointID {
	out := make([]JointID, 0, len(e.joints))
	for id := range e.joints {
		out = append(out, id)
	}
	return out
}

// Measure evaluates one joint against a frame. It returns ErrOutOfGate or
// ErrViewMismatch for frames that must be excluded from aggregation, and
// ErrInsufficientData only when no reduced-fidelity fallback could produce an
// estimate. Degenerate geometry is flagged on the measurement, never
// propagated as NaN or infinity.
func (e *Engine) Measure(id JointID, frame *pose.Frame) (*JointMeasurement, error) {
	def, ok := e.joints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJoint, id)
	}
	if !def.AllowsView(frame.View) {
		return nil, fmt.Errorf("%w: %s from %s", ErrViewMismatch, id, frame.View)
	}

	if def.Gate != nil {
		gateDef, ok := e.joints[def.Gate.Joint]
		if !ok {
			return nil, fmt.Errorf("%w: gate joint %s", ErrUnknownJoint, def.Gate.Joint)
		}
		gate, err := e.measure(gateDef, frame)
		if err != nil {
			return nil, fmt.Errorf("%w: gate joint %s unmeasurable", ErrOutOfGate, def.Gate.Joint)
		}
		if gate.AngleDegrees < def.Gate.MinDeg || gate.AngleDegrees > def.Gate.MaxDeg {
			return nil, fmt.Errorf("%w: %s at %.1f° outside [%.1f, %.1f]",
				ErrOutOfGate, def.Gate.Joint, gate.AngleDegrees, def.Gate.MinDeg, def.Gate.MaxDeg)
		}
	}

	return e.measure(def, frame)
}

// MeasureAll evaluates every joint in the table. Gated, view-restricted, and
// unmeasurable joints are skipped; one missing joint never aborts the frame.
func (e *Engine) MeasureAll(frame *pose.Frame) []*JointMeasurement {
	out := make([]*JointMeasurement, 0, len(e.joints))
	for id := range e.joints {
		m, err := e.Measure(id, frame)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// measure evaluates a definition without the gate check (the gate joint is
// itself measured through this path, so gates cannot recurse).
func (e *Engine) measure(def JointDefinition, frame *pose.Frame) (*JointMeasurement, error) {
	if def.ID == JointTrunk {
		return e.measureTrunk(def, frame)
	}

	af, exactFrame := BuildAnatomicalFrame(frame)

	prox := frame.Landmark(def.Proximal)
	vert := frame.Landmark(def.Vertex)
	dist := frame.Landmark(def.Distal)

	usable := func(lm pose.Landmark) bool { return lm.Confidence >= e.cfg.MinLandmarkConfidence }

	m := &JointMeasurement{
		Joint:         def.ID,
		Side:          def.Side,
		Plane:         def.Plane,
		TimestampNano: frame.TimestampNano,
	}
	if !exactFrame {
		m.Warnings = append(m.Warnings, "anatomical frame degenerate; fallback axes used")
	}

	switch {
	case usable(prox) && usable(vert) && usable(dist):
		m.Confidence = frame.MinConfidence(def.Proximal, def.Vertex, def.Distal)
		e.threePointAngle(m, af, def, prox.Position, vert.Position, dist.Position)

	case def.Fallback != nil && def.Fallback.ReplaceDistal.Valid() &&
		usable(prox) && usable(vert) && usable(frame.Landmark(def.Fallback.ReplaceDistal)):
		alt := frame.Landmark(def.Fallback.ReplaceDistal)
		m.Confidence = frame.MinConfidence(def.Proximal, def.Vertex, def.Fallback.ReplaceDistal)
		m.Fallback = true
		m.Warnings = append(m.Warnings, def.Fallback.Warning)
		e.threePointAngle(m, af, def, prox.Position, vert.Position, alt.Position)

	case def.Fallback != nil && def.Fallback.SegmentFromVertical && usable(prox) && usable(vert):
		m.Confidence = frame.MinConfidence(def.Proximal, def.Vertex)
		m.Fallback = true
		m.Warnings = append(m.Warnings, def.Fallback.Warning)
		segment := prox.Position.Sub(vert.Position)
		incl, ok := angleFromVertical(segment)
		if !ok {
			m.Warnings = append(m.Warnings, "degenerate segment; angle flagged")
		}
		// Best-effort estimate: a vertical proximal segment reads as a
		// straight (180°) joint; inclination eats into extension.
		m.AngleDegrees = 180 - incl

	default:
		return nil, fmt.Errorf("%w: %s", ErrInsufficientData, def.ID)
	}

	e.finalize(m, def)
	return m, nil
}

// measureTrunk measures the midline trunk inclination from vertical using the
// shoulder and hip pairs; it is the one joint not anchored at a single vertex.
func (e *Engine) measureTrunk(def JointDefinition, frame *pose.Frame) (*JointMeasurement, error) {
	ids := []pose.LandmarkID{pose.LeftShoulder, pose.RightShoulder, pose.LeftHip, pose.RightHip}
	for _, id := range ids {
		if frame.Landmark(id).Confidence < e.cfg.MinLandmarkConfidence {
			return nil, fmt.Errorf("%w: trunk (missing %s)", ErrInsufficientData, id)
		}
	}

	midShoulder := frame.Landmark(pose.LeftShoulder).Position.
		Add(frame.Landmark(pose.RightShoulder).Position).Scale(0.5)
	midHip := frame.Landmark(pose.LeftHip).Position.
		Add(frame.Landmark(pose.RightHip).Position).Scale(0.5)

	m := &JointMeasurement{
		Joint:         def.ID,
		Side:          pose.SideCenter,
		Plane:         def.Plane,
		Confidence:    frame.MinConfidence(ids...),
		TimestampNano: frame.TimestampNano,
	}

	// Trunk reads as the included angle convention: upright = 180°.
	segment := midShoulder.Sub(midHip)
	incl, ok := AngleBetween(segment, fallbackUp)
	if !ok {
		m.Warnings = append(m.Warnings, "degenerate trunk segment; angle flagged")
	}
	m.AngleDegrees = 180 - incl

	e.finalize(m, def)
	return m, nil
}

// threePointAngle fills m.AngleDegrees with the angle at vert between the
// proximal and distal segments, projected onto the joint's measurement plane.
func (e *Engine) threePointAngle(m *JointMeasurement, af AnatomicalFrame, def JointDefinition, prox, vert, dist pose.Vec3) {
	plane := af.Plane(def.Plane)

	v1 := prox.Sub(vert)
	v2 := dist.Sub(vert)

	p1, ok1 := plane.ProjectOnto(v1)
	p2, ok2 := plane.ProjectOnto(v2)
	if !ok1 || !ok2 {
		// A segment nearly normal to the plane cannot be projected; fall back
		// to the unprojected angle and flag it.
		m.Warnings = append(m.Warnings, "segment parallel to plane normal; unprojected angle used")
		p1, p2 = v1, v2
	}

	angle, ok := AngleBetween(p1, p2)
	if !ok {
		m.Warnings = append(m.Warnings, "degenerate segment vectors; angle flagged")
		m.Quality = QualityPoor
	}
	m.AngleDegrees = angle
}

// finalize clamps the angle into the plausible range and grades quality.
func (e *Engine) finalize(m *JointMeasurement, def JointDefinition) {
	if def.MaxDeg > def.MinDeg {
		if m.AngleDegrees < def.MinDeg {
			m.AngleDegrees = def.MinDeg
			m.Warnings = append(m.Warnings, "angle below plausible range; clamped")
		} else if m.AngleDegrees > def.MaxDeg {
			m.AngleDegrees = def.MaxDeg
			m.Warnings = append(m.Warnings, "angle above plausible range; clamped")
		}
	}

	switch {
	case m.Quality == QualityPoor:
		// Already downgraded by degenerate geometry.
	case m.Fallback:
		// Fallback estimates never grade above fair.
		if m.Confidence >= e.cfg.QualityFairMin {
			m.Quality = QualityFair
		} else {
			m.Quality = QualityPoor
		}
	case m.Confidence >= e.cfg.QualityGoodMin:
		m.Quality = QualityGood
	case m.Confidence >= e.cfg.QualityFairMin:
		m.Quality = QualityFair
	default:
		m.Quality = QualityPoor
	}
}
