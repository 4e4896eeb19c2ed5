package antispoof

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

type fixedBackend struct {
	inference.Backend
	probs []float64
	err   error
}

func (f *fixedBackend) AntispoofProbs(ctx context.Context, frame inference.Frame, box domain.Box) ([]float64, error) {
	return f.probs, f.err
}

func TestDetectorCalibratesThenPredicts(t *testing.T) {
	backend := &fixedBackend{probs: []float64{0.1, 0.85, 0.05}}
	path := filepath.Join(t.TempDir(), "calib.json")
	d := New(backend, Config{Threshold: 0.5, CalibSamples: 3, StatePath: path, DeviceKey: "cam0"})

	assert.True(t, d.IsCalibrating())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.CalibrateTick(context.Background(), inference.Frame{}, domain.Box{}))
	}
	assert.False(t, d.IsCalibrating())

	res, err := d.Predict(context.Background(), inference.Frame{}, domain.Box{})
	require.NoError(t, err)
	assert.True(t, res.IsLive)
	assert.InDelta(t, 0.85, res.LiveConf, 1e-9)
}

func TestDetectorPredictSwallowsBackendError(t *testing.T) {
	backend := &fixedBackend{probs: []float64{0.1, 0.85, 0.05}}
	path := filepath.Join(t.TempDir(), "calib.json")
	d := New(backend, Config{Threshold: 0.5, CalibSamples: 1, StatePath: path, DeviceKey: "cam0"})
	require.NoError(t, d.CalibrateTick(context.Background(), inference.Frame{}, domain.Box{}))

	backend.err = errors.New("device read failed")
	res, err := d.Predict(context.Background(), inference.Frame{}, domain.Box{})
	require.NoError(t, err)
	assert.False(t, res.IsLive)
	assert.Zero(t, res.LiveConf)
}

func TestDetectorPredictSwallowsShapeMismatch(t *testing.T) {
	backend := &fixedBackend{probs: []float64{0.1, 0.9}}
	path := filepath.Join(t.TempDir(), "calib.json")
	d := New(backend, Config{Threshold: 0.5, CalibSamples: 1, StatePath: path, DeviceKey: "cam0"})
	require.NoError(t, d.CalibrateTick(context.Background(), inference.Frame{}, domain.Box{}))

	backend.probs = []float64{0.5} // shorter than the calibrated live index expects
	res, err := d.Predict(context.Background(), inference.Frame{}, domain.Box{})
	require.NoError(t, err)
	assert.False(t, res.IsLive)
	assert.Zero(t, res.LiveConf)
}

func TestDetectorPredictBeforeCalibrationFails(t *testing.T) {
	backend := &fixedBackend{probs: []float64{0.1, 0.85, 0.05}}
	path := filepath.Join(t.TempDir(), "calib.json")
	d := New(backend, Config{Threshold: 0.5, CalibSamples: 3, StatePath: path, DeviceKey: "cam0"})

	_, err := d.Predict(context.Background(), inference.Frame{}, domain.Box{})
	require.Error(t, err)
}

func TestDetectorLoadsPersistedCalibration(t *testing.T) {
	backend := &fixedBackend{probs: []float64{0.1, 0.2, 0.9}}
	path := filepath.Join(t.TempDir(), "calib.json")

	d1 := New(backend, Config{Threshold: 0.5, CalibSamples: 2, StatePath: path, DeviceKey: "cam0"})
	for i := 0; i < 2; i++ {
		require.NoError(t, d1.CalibrateTick(context.Background(), inference.Frame{}, domain.Box{}))
	}
	require.False(t, d1.IsCalibrating())

	d2 := New(backend, Config{Threshold: 0.5, CalibSamples: 2, StatePath: path, DeviceKey: "cam0"})
	assert.False(t, d2.IsCalibrating())
}

func TestDetectorStaleDeviceKeyRecalibrates(t *testing.T) {
	backend := &fixedBackend{probs: []float64{0.1, 0.2, 0.9}}
	path := filepath.Join(t.TempDir(), "calib.json")

	d1 := New(backend, Config{Threshold: 0.5, CalibSamples: 1, StatePath: path, DeviceKey: "cam0"})
	require.NoError(t, d1.CalibrateTick(context.Background(), inference.Frame{}, domain.Box{}))
	require.False(t, d1.IsCalibrating())

	d2 := New(backend, Config{Threshold: 0.5, CalibSamples: 1, StatePath: path, DeviceKey: "cam1"})
	assert.True(t, d2.IsCalibrating())
}
