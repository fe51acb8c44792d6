package pose

// LandmarkID identifies a named skeletal point in the fixed landmark schema
// produced by the upstream pose-estimation model. The enumeration follows the
// MediaPipe Pose convention (33 landmarks) so frames can be consumed without
// remapping.
type LandmarkID int

const (
	Nose LandmarkID = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex

	// NumLandmarks is the size of the fixed landmark schema.
	NumLandmarks = 33
)

var landmarkNames = [NumLandmarks]string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// String returns the canonical snake_case name for the landmark.
func (id LandmarkID) String() string {
	if id < 0 || int(id) >= NumLandmarks {
		return "unknown"
	}
	return landmarkNames[id]
}

// Valid reports whether the id lies within the fixed schema.
func (id LandmarkID) Valid() bool {
	return id >= 0 && int(id) < NumLandmarks
}

// ParseLandmarkID resolves a canonical landmark name back to its id.
// Returns false for names outside the schema.
func ParseLandmarkID(name string) (LandmarkID, bool) {
	for i, n := range landmarkNames {
		if n == name {
			return LandmarkID(i), true
		}
	}
	return 0, false
}

// Side labels the body side a landmark or measurement belongs to.
type Side string

const (
	SideLeft   Side = "left"
	SideRight  Side = "right"
	SideCenter Side = "center"
)

var landmarkSides = map[LandmarkID]Side{
	LeftShoulder: SideLeft, LeftElbow: SideLeft, LeftWrist: SideLeft,
	LeftPinky: SideLeft, LeftIndex: SideLeft, LeftThumb: SideLeft,
	LeftHip: SideLeft, LeftKnee: SideLeft, LeftAnkle: SideLeft,
	LeftHeel: SideLeft, LeftFootIndex: SideLeft,
	LeftEyeInner: SideLeft, LeftEye: SideLeft, LeftEyeOuter: SideLeft,
	LeftEar: SideLeft, MouthLeft: SideLeft,

	RightShoulder: SideRight, RightElbow: SideRight, RightWrist: SideRight,
	RightPinky: SideRight, RightIndex: SideRight, RightThumb: SideRight,
	RightHip: SideRight, RightKnee: SideRight, RightAnkle: SideRight,
	RightHeel: SideRight, RightFootIndex: SideRight,
	RightEyeInner: SideRight, RightEye: SideRight, RightEyeOuter: SideRight,
	RightEar: SideRight, MouthRight: SideRight,
}

// BodySide returns which side of the body the landmark sits on.
// Midline landmarks (nose) report SideCenter.
func (id LandmarkID) BodySide() Side {
	if s, ok := landmarkSides[id]; ok {
		return s
	}
	return SideCenter
}
