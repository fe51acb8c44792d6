package pose

import (
	"fmt"
	"math"
)

// Vec3 is a position or direction in the camera-relative coordinate space the
// pose model emits: x right, y down (image convention), z toward the camera.
// Units are normalised image coordinates unless the caller rescales.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Cross returns the cross product v × o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalize returns the unit vector in the direction of v. The second return
// is false when v is too short to normalise safely.
func (v Vec3) Normalize() (Vec3, bool) {
	n := v.Norm()
	if n < 1e-9 {
		return Vec3{}, false
	}
	return v.Scale(1 / n), true
}

// Landmark is one named skeletal point in a frame. Confidence 0 means the
// point is absent; it must never be treated as an observed position.
type Landmark struct {
	ID         LandmarkID `json:"id"`
	Position   Vec3       `json:"position"`
	Confidence float64    `json:"confidence"`
}

// Present reports whether the landmark carries any observation at all.
func (l Landmark) Present() bool { return l.Confidence > 0 }

// CaptureView tags which way the subject faces the camera. Joints declare the
// views they can be measured from; an empty view places no restriction.
type CaptureView string

const (
	ViewUnknown   CaptureView = ""
	ViewFrontal   CaptureView = "frontal"
	ViewSagittal  CaptureView = "sagittal"
	ViewPosterior CaptureView = "posterior"
)

// Frame is one pose-model inference result: the full fixed landmark set, a
// monotonic timestamp, and an optional capture-view tag. Frames are immutable
// once built; downstream stages derive new values rather than mutate them.
type Frame struct {
	Landmarks     [NumLandmarks]Landmark `json:"landmarks"`
	TimestampNano int64                  `json:"timestamp_nanos"`
	View          CaptureView            `json:"view,omitempty"`
}

// NewFrame builds a frame from a landmark list, filling schema slots the list
// does not cover with absent (confidence 0) landmarks. Landmarks outside the
// schema or with confidence outside [0,1] are rejected.
func NewFrame(landmarks []Landmark, timestampNano int64, view CaptureView) (*Frame, error) {
	f := &Frame{TimestampNano: timestampNano, View: view}
	for i := range f.Landmarks {
		f.Landmarks[i].ID = LandmarkID(i)
	}
	for _, lm := range landmarks {
		if !lm.ID.Valid() {
			return nil, fmt.Errorf("landmark id %d outside schema", lm.ID)
		}
		if lm.Confidence < 0 || lm.Confidence > 1 {
			return nil, fmt.Errorf("landmark %s confidence %f outside [0,1]", lm.ID, lm.Confidence)
		}
		f.Landmarks[lm.ID] = lm
	}
	return f, nil
}

// Landmark returns the slot for id. The zero landmark (confidence 0) is
// returned for ids outside the schema.
func (f *Frame) Landmark(id LandmarkID) Landmark {
	if !id.Valid() {
		return Landmark{ID: id}
	}
	return f.Landmarks[id]
}

// MinConfidence returns the lowest confidence across the given landmark ids.
// An absent landmark pins the result at 0.
func (f *Frame) MinConfidence(ids ...LandmarkID) float64 {
	min := 1.0
	for _, id := range ids {
		if c := f.Landmark(id).Confidence; c < min {
			min = c
		}
	}
	return min
}
