// Package goniometry converts smoothed pose landmarks into clinically defined
// joint-angle measurements. Joints are a closed set of definition records
// (required landmarks, measurement plane, gating constraint, fallback rule)
// evaluated by one generic engine.
package goniometry

import (
	"math"

	"github.com/physioassist/motioncore/internal/pose"
)

// PlaneName names a standard anatomical plane.
type PlaneName string

const (
	PlaneSagittal   PlaneName = "sagittal"
	PlaneFrontal    PlaneName = "frontal"
	PlaneTransverse PlaneName = "transverse"
)

// MeasurementPlane is an anatomical plane resolved for one frame: a unit
// normal plus the reference point measurements are taken about.
type MeasurementPlane struct {
	Name      PlaneName
	Normal    pose.Vec3
	Reference pose.Vec3
}

// AnatomicalFrame is the per-frame pelvic coordinate frame every plane is
// derived from. It is recomputed for each frame and never persisted.
type AnatomicalFrame struct {
	Origin   pose.Vec3 // mid-hip
	Lateral  pose.Vec3 // unit, left hip → right hip
	Up       pose.Vec3 // unit, mid-hip → mid-shoulder
	Anterior pose.Vec3 // unit, completes the right-handed triad
}

// Image-convention fallback axes, used when the hip/shoulder landmarks are
// too degenerate to span a frame.
var (
	fallbackLateral  = pose.Vec3{X: 1}
	fallbackUp       = pose.Vec3{Y: -1}
	fallbackAnterior = pose.Vec3{Z: 1}
)

// BuildAnatomicalFrame derives the pelvic frame from the hip and shoulder
// landmarks. The second return is false when any required axis degenerated
// and a fallback axis was substituted; callers should downgrade quality.
func BuildAnatomicalFrame(f *pose.Frame) (AnatomicalFrame, bool) {
	lh := f.Landmark(pose.LeftHip).Position
	rh := f.Landmark(pose.RightHip).Position
	ls := f.Landmark(pose.LeftShoulder).Position
	rs := f.Landmark(pose.RightShoulder).Position

	origin := lh.Add(rh).Scale(0.5)
	midShoulder := ls.Add(rs).Scale(0.5)

	exact := true
	lateral, ok := rh.Sub(lh).Normalize()
	if !ok {
		lateral, exact = fallbackLateral, false
	}
	up, ok := midShoulder.Sub(origin).Normalize()
	if !ok {
		up, exact = fallbackUp, false
	}
	anterior, ok := lateral.Cross(up).Normalize()
	if !ok {
		anterior, exact = fallbackAnterior, false
	}
	// Re-orthogonalise up against the other two axes.
	up, ok = anterior.Cross(lateral).Normalize()
	if !ok {
		up, exact = fallbackUp, false
	}

	return AnatomicalFrame{Origin: origin, Lateral: lateral, Up: up, Anterior: anterior}, exact
}

// Plane resolves a named anatomical plane against the frame.
func (af AnatomicalFrame) Plane(name PlaneName) MeasurementPlane {
	p := MeasurementPlane{Name: name, Reference: af.Origin}
	switch name {
	case PlaneSagittal:
		p.Normal = af.Lateral
	case PlaneFrontal:
		p.Normal = af.Anterior
	case PlaneTransverse:
		p.Normal = af.Up
	default:
		p.Normal = af.Lateral
	}
	return p
}

// ProjectOnto removes the plane-normal component of v. The second return is
// false when the projection collapses (v nearly parallel to the normal).
func (p MeasurementPlane) ProjectOnto(v pose.Vec3) (pose.Vec3, bool) {
	proj := v.Sub(p.Normal.Scale(v.Dot(p.Normal)))
	if proj.Norm() < 1e-9 {
		return pose.Vec3{}, false
	}
	return proj, true
}

// AngleBetween returns the angle in degrees between two vectors via the
// arccosine of the normalised dot product. The second return is false when
// either vector is degenerate; a degenerate pair yields 0, never NaN.
func AngleBetween(a, b pose.Vec3) (float64, bool) {
	ua, okA := a.Normalize()
	ub, okB := b.Normalize()
	if !okA || !okB {
		return 0, false
	}
	d := ua.Dot(ub)
	// Guard rounding drift outside [-1, 1] before acos.
	if d > 1 {
		d = 1
	} else if d < -1 {
		d = -1
	}
	return math.Acos(d) * 180 / math.Pi, true
}

// angleFromVertical returns the inclination of a segment from the global
// vertical, in degrees. The anatomical up axis is unusable here: it is
// derived from the trunk segment, so trunk-anchored fallbacks (hip from
// shoulder→hip) would read 180° at any flexion.
func angleFromVertical(segment pose.Vec3) (float64, bool) {
	return AngleBetween(segment, fallbackUp)
}
