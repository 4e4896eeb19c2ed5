package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

type fakeBackend struct {
	inference.Backend
	vec []float64
	err error
}

func (f *fakeBackend) Recognize(ctx context.Context, frame inference.Frame, box domain.Box) ([]float64, error) {
	return f.vec, f.err
}

func TestExtractNormalizes(t *testing.T) {
	e := NewExtractor(&fakeBackend{vec: []float64{3, 4}})
	emb, err := e.Extract(context.Background(), inference.Frame{}, domain.Box{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, emb.Norm(), 1e-9)
	assert.InDelta(t, 0.6, emb.Vector[0], 1e-9)
	assert.InDelta(t, 0.8, emb.Vector[1], 1e-9)
}

func TestExtractEmptyVectorErrors(t *testing.T) {
	e := NewExtractor(&fakeBackend{vec: nil})
	_, err := e.Extract(context.Background(), inference.Frame{}, domain.Box{})
	require.Error(t, err)
}
