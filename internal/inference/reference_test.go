package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/domain"
)

func testFrame(t *testing.T, seed byte) Frame {
	t.Helper()
	w, h := 64, 64
	px := make([]byte, w*h*3)
	for i := range px {
		px[i] = byte(int(seed) + i)
	}
	return Frame{Pixels: px, Width: w, Height: h, Order: domain.ColorBGR}
}

func TestReferenceDetectDeterministic(t *testing.T) {
	r := NewReference()
	f := testFrame(t, 7)

	d1, err := r.Detect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, d1, 1)

	d2, err := r.Detect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, d2, 1)

	assert.Equal(t, d1[0].Box, d2[0].Box)
	assert.Equal(t, d1[0].Score, d2[0].Score)
}

func TestReferenceDetectVariesByFrame(t *testing.T) {
	r := NewReference()
	d1, err := r.Detect(context.Background(), testFrame(t, 1))
	require.NoError(t, err)
	d2, err := r.Detect(context.Background(), testFrame(t, 200))
	require.NoError(t, err)

	assert.NotEqual(t, d1[0].Box, d2[0].Box)
}

func TestReferenceRecognizeStableDimension(t *testing.T) {
	r := NewReference()
	f := testFrame(t, 3)
	box := domain.Box{X: 5, Y: 5, W: 20, H: 20}

	v1, err := r.Recognize(context.Background(), f, box)
	require.NoError(t, err)
	assert.Len(t, v1, domain.EmbeddingDim)

	v2, err := r.Recognize(context.Background(), f, box)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestReferenceMeshEyeContourWidth(t *testing.T) {
	r := NewReference()
	f := testFrame(t, 9)
	box := domain.Box{X: 0, Y: 0, W: 60, H: 60}

	pts, err := r.Mesh(context.Background(), f, box)
	require.NoError(t, err)
	require.Len(t, pts, meshPointCount)
	// each eye contour spans 12% of the box width (60 * 0.12 = 7.2)
	assert.InDelta(t, 7.2, pts[LeftEyeIdx[3]].X-pts[LeftEyeIdx[0]].X, 1e-9)
}

func TestReferenceAntispoofProbsSumToOne(t *testing.T) {
	r := NewReference()
	f := testFrame(t, 55)
	box := domain.Box{X: 0, Y: 0, W: 40, H: 40}

	probs, err := r.AntispoofProbs(context.Background(), f, box)
	require.NoError(t, err)
	require.Len(t, probs, antispoofClasses)

	sum := 0.0
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
