package compensation

import (
	"math"

	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
)

// Inputs carries one frame's worth of upstream results into detection.
// Measurements are keyed by joint; the map and its records are read-only
// here; the contract with goniometry is one-way.
type Inputs struct {
	Frame        *pose.Frame
	Measurements map[goniometry.JointID]*goniometry.JointMeasurement
}

// measurement returns the joint's reading unless its quality is poor.
// Absence of trustworthy data is never interpreted as a compensation.
func (in Inputs) measurement(id goniometry.JointID) (*goniometry.JointMeasurement, bool) {
	m, ok := in.Measurements[id]
	if !ok || m.Quality == goniometry.QualityPoor {
		return nil, false
	}
	return m, true
}

// landmarksUsable reports whether every listed landmark clears the given
// confidence floor in the frame.
func (in Inputs) landmarksUsable(minConfidence float64, ids ...pose.LandmarkID) bool {
	for _, id := range ids {
		if in.Frame.Landmark(id).Confidence < minConfidence {
			return false
		}
	}
	return true
}

// Rule computes a per-frame raw magnitude (in degrees) for one pattern type
// on one side. ok is false when the frame carries no trustworthy reading,
// which leaves the persistence tracker untouched rather than closing it.
type Rule struct {
	Type      Type
	Sides     []pose.Side
	Magnitude func(in Inputs, side pose.Side, minConfidence float64) (float64, bool)
}

// DefaultRules returns the production magnitude rules. IncompleteROM is not
// here: it is a per-repetition shortfall computed post-hoc (DetectIncompleteROM),
// not a per-frame condition.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:  TrunkLean,
			Sides: []pose.Side{pose.SideCenter},
			// Degrees of trunk inclination from vertical: 180° trunk reading
			// is upright, so the lean is the shortfall.
			Magnitude: func(in Inputs, _ pose.Side, _ float64) (float64, bool) {
				m, ok := in.measurement(goniometry.JointTrunk)
				if !ok {
					return 0, false
				}
				return 180 - m.AngleDegrees, true
			},
		},
		{
			Type:      ShoulderHike,
			Sides:     []pose.Side{pose.SideLeft, pose.SideRight},
			Magnitude: shoulderLineTilt,
		},
		{
			Type:      KneeValgus,
			Sides:     []pose.Side{pose.SideLeft, pose.SideRight},
			Magnitude: frontalKneeDeviation,
		},
		{
			Type:      HeelLift,
			Sides:     []pose.Side{pose.SideLeft, pose.SideRight},
			Magnitude: footPitch,
		},
		{
			Type:      HipDrop,
			Sides:     []pose.Side{pose.SideLeft, pose.SideRight},
			Magnitude: pelvisLineTilt,
		},
	}
}

// lineTiltDeg returns the tilt of the a→b line from horizontal, in degrees,
// signed so a positive value means b sits higher than a (image y is down).
func lineTiltDeg(a, b pose.Vec3) float64 {
	dx := b.X - a.X
	dy := a.Y - b.Y // flip: image y grows downward
	horiz := math.Hypot(dx, b.Z-a.Z)
	if horiz < 1e-9 {
		return 0
	}
	return math.Atan2(dy, horiz) * 180 / math.Pi
}

// shoulderLineTilt attributes the tilt of the shoulder line to the elevated
// side. A hiked left shoulder yields magnitude on the left only.
func shoulderLineTilt(in Inputs, side pose.Side, minConfidence float64) (float64, bool) {
	if !in.landmarksUsable(minConfidence, pose.LeftShoulder, pose.RightShoulder) {
		return 0, false
	}
	tilt := lineTiltDeg(
		in.Frame.Landmark(pose.RightShoulder).Position,
		in.Frame.Landmark(pose.LeftShoulder).Position,
	)
	// tilt > 0: left shoulder higher.
	if side == pose.SideLeft && tilt > 0 {
		return tilt, true
	}
	if side == pose.SideRight && tilt < 0 {
		return -tilt, true
	}
	return 0, true
}

// pelvisLineTilt attributes the tilt of the hip line to the dropped side.
func pelvisLineTilt(in Inputs, side pose.Side, minConfidence float64) (float64, bool) {
	if !in.landmarksUsable(minConfidence, pose.LeftHip, pose.RightHip) {
		return 0, false
	}
	tilt := lineTiltDeg(
		in.Frame.Landmark(pose.RightHip).Position,
		in.Frame.Landmark(pose.LeftHip).Position,
	)
	// tilt > 0: left hip higher, so the right hip dropped.
	if side == pose.SideRight && tilt > 0 {
		return tilt, true
	}
	if side == pose.SideLeft && tilt < 0 {
		return -tilt, true
	}
	return 0, true
}

// frontalKneeDeviation measures how far the knee collapses inward: the
// deviation from a straight hip-knee-ankle line in the frontal plane, with
// the knee medial to that line. Lateral (varus) deviation is not this
// pattern and reads zero.
func frontalKneeDeviation(in Inputs, side pose.Side, minConfidence float64) (float64, bool) {
	hipID, kneeID, ankleID := pose.LeftHip, pose.LeftKnee, pose.LeftAnkle
	if side == pose.SideRight {
		hipID, kneeID, ankleID = pose.RightHip, pose.RightKnee, pose.RightAnkle
	}
	if !in.landmarksUsable(minConfidence, hipID, kneeID, ankleID) {
		return 0, false
	}

	hip := in.Frame.Landmark(hipID).Position
	knee := in.Frame.Landmark(kneeID).Position
	ankle := in.Frame.Landmark(ankleID).Position

	// Frontal-plane projection: drop z, keep x/y.
	thigh := pose.Vec3{X: hip.X - knee.X, Y: hip.Y - knee.Y}
	shank := pose.Vec3{X: ankle.X - knee.X, Y: ankle.Y - knee.Y}
	angle, ok := goniometry.AngleBetween(thigh, shank)
	if !ok {
		return 0, false
	}
	deviation := 180 - angle

	// Medial collapse check: the knee must sit toward the midline of the
	// hip-ankle chord. Cross product sign tells which side the knee bows to.
	cross := (ankle.X-hip.X)*(knee.Y-hip.Y) - (ankle.Y-hip.Y)*(knee.X-hip.X)
	medial := cross < 0
	if side == pose.SideRight {
		medial = cross > 0
	}
	if !medial {
		return 0, true
	}
	return deviation, true
}

// footPitch measures the heel rising above the forefoot: the pitch of the
// heel→foot-index segment below horizontal. A grounded foot reads ~0.
func footPitch(in Inputs, side pose.Side, minConfidence float64) (float64, bool) {
	heelID, toeID := pose.LeftHeel, pose.LeftFootIndex
	if side == pose.SideRight {
		heelID, toeID = pose.RightHeel, pose.RightFootIndex
	}
	if !in.landmarksUsable(minConfidence, heelID, toeID) {
		return 0, false
	}
	// Positive tilt means the heel sits higher than the toe.
	tilt := lineTiltDeg(
		in.Frame.Landmark(toeID).Position,
		in.Frame.Landmark(heelID).Position,
	)
	if tilt < 0 {
		return 0, true
	}
	return tilt, true
}
