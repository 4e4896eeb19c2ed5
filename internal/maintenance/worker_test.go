package maintenance

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/antispoof"
	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPruneLogsRemovesOnlyOldFiles(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "sentinel-2020-01-01.log")
	fresh := filepath.Join(dir, "sentinel-2026-08-06.log")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0o600))

	oldTime := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	w := NewWorker(Config{LogDir: dir, LogRetentionDays: 30}, nil, silentLogger())
	w.pruneLogs()

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestPruneLogsMissingDirIsNotAnError(t *testing.T) {
	w := NewWorker(Config{LogDir: filepath.Join(t.TempDir(), "gone"), LogRetentionDays: 30}, nil, silentLogger())
	assert.NotPanics(t, func() { w.pruneLogs() })
}

type stubBackend struct{ inference.Backend }

func (stubBackend) AntispoofProbs(ctx context.Context, frame inference.Frame, box domain.Box) ([]float64, error) {
	return []float64{0.1, 0.8, 0.1}, nil
}

func TestCheckRecalibrationKeepsFreshCalibration(t *testing.T) {
	dir := t.TempDir()
	det := antispoof.New(stubBackend{}, antispoof.Config{
		Threshold: 0.5, CalibSamples: 1, StatePath: filepath.Join(dir, "calib.json"), DeviceKey: "cam0",
	})
	require.NoError(t, det.CalibrateTick(context.Background(), inference.Frame{Width: 4, Height: 4, Pixels: make([]byte, 48)}, domain.Box{W: 4, H: 4}))
	require.False(t, det.IsCalibrating())

	w := NewWorker(Config{}, det, silentLogger())
	w.checkRecalibration()
	assert.False(t, det.IsCalibrating(), "a fresh calibration must not be reset")
}

func TestCheckRecalibrationNoopWhenUncalibrated(t *testing.T) {
	dir := t.TempDir()
	det := antispoof.New(stubBackend{}, antispoof.Config{
		Threshold: 0.5, CalibSamples: 5, StatePath: filepath.Join(dir, "calib.json"), DeviceKey: "cam0",
	})
	require.True(t, det.IsCalibrating())

	w := NewWorker(Config{}, det, silentLogger())
	assert.NotPanics(t, func() { w.checkRecalibration() })
	assert.True(t, det.IsCalibrating())
}
