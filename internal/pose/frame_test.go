package pose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrameValidation(t *testing.T) {
	t.Parallel()

	t.Run("fills absent slots", func(t *testing.T) {
		t.Parallel()
		f, err := NewFrame([]Landmark{
			{ID: LeftKnee, Position: Vec3{X: 0.5}, Confidence: 0.8},
		}, 1000, ViewSagittal)
		require.NoError(t, err)

		assert.True(t, f.Landmark(LeftKnee).Present())
		assert.False(t, f.Landmark(RightKnee).Present())
		assert.Equal(t, RightKnee, f.Landmark(RightKnee).ID)
	})

	t.Run("rejects out of schema id", func(t *testing.T) {
		t.Parallel()
		_, err := NewFrame([]Landmark{{ID: LandmarkID(99), Confidence: 0.5}}, 0, ViewUnknown)
		assert.Error(t, err)
	})

	t.Run("rejects confidence outside unit range", func(t *testing.T) {
		t.Parallel()
		_, err := NewFrame([]Landmark{{ID: Nose, Confidence: 1.2}}, 0, ViewUnknown)
		assert.Error(t, err)
		_, err = NewFrame([]Landmark{{ID: Nose, Confidence: -0.1}}, 0, ViewUnknown)
		assert.Error(t, err)
	})
}

func TestMinConfidence(t *testing.T) {
	t.Parallel()

	f, err := NewFrame([]Landmark{
		{ID: LeftHip, Confidence: 0.9},
		{ID: LeftKnee, Confidence: 0.6},
		{ID: LeftAnkle, Confidence: 0.8},
	}, 0, ViewUnknown)
	require.NoError(t, err)

	assert.Equal(t, 0.6, f.MinConfidence(LeftHip, LeftKnee, LeftAnkle))
	// An absent landmark pins the minimum at zero.
	assert.Equal(t, 0.0, f.MinConfidence(LeftHip, RightAnkle))
}

func TestLandmarkNamesRoundTrip(t *testing.T) {
	t.Parallel()

	for id := LandmarkID(0); id.Valid(); id++ {
		parsed, ok := ParseLandmarkID(id.String())
		require.True(t, ok, "name %q must parse", id.String())
		assert.Equal(t, id, parsed)
	}
	_, ok := ParseLandmarkID("left_antenna")
	assert.False(t, ok)
	assert.Equal(t, "unknown", LandmarkID(-1).String())
}

func TestBodySide(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SideLeft, LeftKnee.BodySide())
	assert.Equal(t, SideRight, RightShoulder.BodySide())
	assert.Equal(t, SideCenter, Nose.BodySide())
}

func TestVec3Normalize(t *testing.T) {
	t.Parallel()

	v, ok := Vec3{X: 3, Y: 4}.Normalize()
	require.True(t, ok)
	assert.InDelta(t, 0.6, v.X, 1e-12)
	assert.InDelta(t, 0.8, v.Y, 1e-12)
	assert.InDelta(t, 1.0, v.Norm(), 1e-12)

	_, ok = Vec3{}.Normalize()
	assert.False(t, ok, "zero vector must refuse to normalise")
}
