package goniometry

import "github.com/physioassist/motioncore/internal/pose"

// JointID names a measurable joint. The set is closed: the engine evaluates
// only joints present in the definition table.
type JointID string

const (
	JointElbowLeft     JointID = "elbow_left"
	JointElbowRight    JointID = "elbow_right"
	JointShoulderLeft  JointID = "shoulder_left"
	JointShoulderRight JointID = "shoulder_right"
	JointHipLeft       JointID = "hip_left"
	JointHipRight      JointID = "hip_right"
	JointKneeLeft      JointID = "knee_left"
	JointKneeRight     JointID = "knee_right"
	JointAnkleLeft     JointID = "ankle_left"
	JointAnkleRight    JointID = "ankle_right"
	JointTrunk         JointID = "trunk"
)

// FallbackRule describes the documented reduced-fidelity estimate used when
// the primary landmark set is missing or below confidence. Fallback results
// are tagged fair/poor with the rule's warning; their accuracy is best-effort
// and has no validated bound.
type FallbackRule struct {
	// ReplaceDistal substitutes an alternate distal landmark when the primary
	// distal is unusable (e.g. heel for foot index).
	ReplaceDistal pose.LandmarkID
	// SegmentFromVertical estimates the joint angle from the proximal→vertex
	// segment's inclination from the anatomical vertical when the distal
	// landmark is unusable (e.g. knee angle from thigh inclination when the
	// ankle is occluded).
	SegmentFromVertical bool
	// Warning is attached to every measurement produced via this rule.
	Warning string
}

// GateConstraint makes a measurement conditional on a secondary joint's angle
// lying inside a tolerance band. Out-of-gate frames are skipped, never
// substituted.
type GateConstraint struct {
	Joint  JointID
	MinDeg float64
	MaxDeg float64
}

// JointDefinition is one record of the closed joint set: the three landmarks
// spanning the angle (measured at Vertex), the anatomical plane the vectors
// are projected onto, the physiologically plausible range, and the optional
// gate, fallback, and capture-view restrictions.
type JointDefinition struct {
	ID       JointID
	Side     pose.Side
	Plane    PlaneName
	Proximal pose.LandmarkID
	Vertex   pose.LandmarkID
	Distal   pose.LandmarkID

	// Plausible range in degrees; results outside are clamped and flagged.
	MinDeg float64
	MaxDeg float64

	Gate     *GateConstraint
	Fallback *FallbackRule

	// Views restricts which capture views the joint may be measured from.
	// Empty means any view.
	Views []pose.CaptureView
}

// AllowsView reports whether the definition permits measurement from the
// given capture view. Untagged frames are always allowed.
func (d JointDefinition) AllowsView(v pose.CaptureView) bool {
	if v == pose.ViewUnknown || len(d.Views) == 0 {
		return true
	}
	for _, allowed := range d.Views {
		if allowed == v {
			return true
		}
	}
	return false
}

// DefaultJointTable returns the production joint set. Angles follow the
// goniometric convention of the included angle at the vertex: a straight
// elbow or knee reads ~180°.
func DefaultJointTable() map[JointID]JointDefinition {
	return map[JointID]JointDefinition{
		JointElbowLeft: {
			ID: JointElbowLeft, Side: pose.SideLeft, Plane: PlaneSagittal,
			Proximal: pose.LeftShoulder, Vertex: pose.LeftElbow, Distal: pose.LeftWrist,
			MinDeg: 0, MaxDeg: 185,
		},
		JointElbowRight: {
			ID: JointElbowRight, Side: pose.SideRight, Plane: PlaneSagittal,
			Proximal: pose.RightShoulder, Vertex: pose.RightElbow, Distal: pose.RightWrist,
			MinDeg: 0, MaxDeg: 185,
		},
		JointShoulderLeft: {
			ID: JointShoulderLeft, Side: pose.SideLeft, Plane: PlaneFrontal,
			Proximal: pose.LeftHip, Vertex: pose.LeftShoulder, Distal: pose.LeftElbow,
			MinDeg: 0, MaxDeg: 185,
			// Shoulder elevation is only meaningful with a near-straight arm;
			// a bent elbow shortens the apparent humerus and skews the angle.
			Gate: &GateConstraint{Joint: JointElbowLeft, MinDeg: 140, MaxDeg: 185},
			Fallback: &FallbackRule{
				ReplaceDistal: pose.LeftWrist,
				Warning:       "shoulder estimated from wrist; elbow occluded",
			},
			Views: []pose.CaptureView{pose.ViewFrontal, pose.ViewPosterior},
		},
		JointShoulderRight: {
			ID: JointShoulderRight, Side: pose.SideRight, Plane: PlaneFrontal,
			Proximal: pose.RightHip, Vertex: pose.RightShoulder, Distal: pose.RightElbow,
			MinDeg: 0, MaxDeg: 185,
			Gate: &GateConstraint{Joint: JointElbowRight, MinDeg: 140, MaxDeg: 185},
			Fallback: &FallbackRule{
				ReplaceDistal: pose.RightWrist,
				Warning:       "shoulder estimated from wrist; elbow occluded",
			},
			Views: []pose.CaptureView{pose.ViewFrontal, pose.ViewPosterior},
		},
		JointHipLeft: {
			ID: JointHipLeft, Side: pose.SideLeft, Plane: PlaneSagittal,
			Proximal: pose.LeftShoulder, Vertex: pose.LeftHip, Distal: pose.LeftKnee,
			MinDeg: 0, MaxDeg: 185,
			Fallback: &FallbackRule{
				SegmentFromVertical: true,
				Warning:             "hip estimated from trunk inclination; knee occluded",
			},
		},
		JointHipRight: {
			ID: JointHipRight, Side: pose.SideRight, Plane: PlaneSagittal,
			Proximal: pose.RightShoulder, Vertex: pose.RightHip, Distal: pose.RightKnee,
			MinDeg: 0, MaxDeg: 185,
			Fallback: &FallbackRule{
				SegmentFromVertical: true,
				Warning:             "hip estimated from trunk inclination; knee occluded",
			},
		},
		JointKneeLeft: {
			ID: JointKneeLeft, Side: pose.SideLeft, Plane: PlaneSagittal,
			Proximal: pose.LeftHip, Vertex: pose.LeftKnee, Distal: pose.LeftAnkle,
			MinDeg: 0, MaxDeg: 185,
			Fallback: &FallbackRule{
				SegmentFromVertical: true,
				Warning:             "knee estimated from thigh inclination; ankle occluded",
			},
		},
		JointKneeRight: {
			ID: JointKneeRight, Side: pose.SideRight, Plane: PlaneSagittal,
			Proximal: pose.RightHip, Vertex: pose.RightKnee, Distal: pose.RightAnkle,
			MinDeg: 0, MaxDeg: 185,
			Fallback: &FallbackRule{
				SegmentFromVertical: true,
				Warning:             "knee estimated from thigh inclination; ankle occluded",
			},
		},
		JointAnkleLeft: {
			ID: JointAnkleLeft, Side: pose.SideLeft, Plane: PlaneSagittal,
			Proximal: pose.LeftKnee, Vertex: pose.LeftAnkle, Distal: pose.LeftFootIndex,
			MinDeg: 40, MaxDeg: 180,
			Fallback: &FallbackRule{
				ReplaceDistal: pose.LeftHeel,
				Warning:       "ankle estimated from heel; foot index occluded",
			},
			Views: []pose.CaptureView{pose.ViewSagittal},
		},
		JointAnkleRight: {
			ID: JointAnkleRight, Side: pose.SideRight, Plane: PlaneSagittal,
			Proximal: pose.RightKnee, Vertex: pose.RightAnkle, Distal: pose.RightFootIndex,
			MinDeg: 40, MaxDeg: 180,
			Fallback: &FallbackRule{
				ReplaceDistal: pose.RightHeel,
				Warning:       "ankle estimated from heel; foot index occluded",
			},
			Views: []pose.CaptureView{pose.ViewSagittal},
		},
		// Trunk is the one midline joint: the engine measures the mid-hip →
		// mid-shoulder segment's inclination from vertical, so the landmark
		// triple here only anchors side and plane bookkeeping.
		JointTrunk: {
			ID: JointTrunk, Side: pose.SideCenter, Plane: PlaneSagittal,
			Proximal: pose.LeftShoulder, Vertex: pose.LeftHip, Distal: pose.LeftKnee,
			MinDeg: 0, MaxDeg: 185,
		},
	}
}
