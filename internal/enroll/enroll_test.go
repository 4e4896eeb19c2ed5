package enroll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectsentinel/sentineld/internal/camera"
	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/embed"
	"github.com/projectsentinel/sentineld/internal/gallery"
	"github.com/projectsentinel/sentineld/internal/inference"
	"github.com/projectsentinel/sentineld/internal/vision"
)

type stubBackend struct {
	numFaces int
	box      domain.Box
}

func (b *stubBackend) Name() string                 { return "stub" }
func (b *stubBackend) Warmup(context.Context) error { return nil }
func (b *stubBackend) Mesh(context.Context, inference.Frame, domain.Box) ([]inference.MeshPoint, error) {
	return nil, inference.ErrUnsupported
}
func (b *stubBackend) AntispoofProbs(context.Context, inference.Frame, domain.Box) ([]float64, error) {
	return nil, inference.ErrUnsupported
}

func (b *stubBackend) Detect(context.Context, inference.Frame) ([]domain.FaceDetection, error) {
	out := make([]domain.FaceDetection, b.numFaces)
	for i := range out {
		box := b.box
		box.X += float64(i) * 200
		out[i] = domain.FaceDetection{Box: box, Score: 0.99}
	}
	return out, nil
}

func (b *stubBackend) Recognize(context.Context, inference.Frame, domain.Box) ([]float64, error) {
	return []float64{1, 0, 0, 0}, nil
}

type stubDevice struct{}

func (stubDevice) Read() ([]byte, int, int, error) { return make([]byte, 64), 8, 8, nil }
func (stubDevice) Close() error                    { return nil }

func newTestSession(t *testing.T, backend *stubBackend) (*Session, *gallery.Store) {
	t.Helper()
	cam := camera.New(camera.Config{DeviceID: "0", Width: 8, Height: 8, FPS: 30, WarmupMs: 0}, func(string, int, int, int) (camera.Device, error) {
		return stubDevice{}, nil
	})
	det := vision.NewDetector(backend, vision.DetectorConfig{ScoreMin: 0.5, MinFacePx: 5, MaxFaces: 5})
	tr := vision.NewTracker(vision.TrackerConfig{IoUReassoc: 0.3, MaxLostFrames: 0, ProcessNoise: 0.03, MeasNoise: 0.1})
	ex := embed.NewExtractor(backend)
	gs := gallery.NewStore(gallery.Config{StateDir: t.TempDir(), MinEnrolled: 1, MaxAdaptive: 5, MaxAge: 45 * 24 * time.Hour})

	s := NewSession(Config{SamplesPerPose: 2, PoseMotionFraction: 0.1}, Deps{Camera: cam, Detector: det, Tracker: tr, Extractor: ex, Galleries: gs})
	return s, gs
}

func TestStartRefusesAlreadyEnrolledUser(t *testing.T) {
	backend := &stubBackend{numFaces: 1, box: domain.Box{X: 10, Y: 10, W: 50, H: 50}}
	s, gs := newTestSession(t, backend)
	require.NoError(t, gs.Save(domain.Gallery{User: "alex", Enrolled: []domain.Embedding{domain.NewEmbedding([]float64{1, 0, 0, 0})}, CreatedAt: time.Now()}))

	_, err := s.Start(context.Background(), "alex", false)
	require.Error(t, err)
	assert.Equal(t, "USER_ALREADY_ENROLLED", err.(*domain.AppError).Code)
}

func TestProcessReportsMultipleFaces(t *testing.T) {
	backend := &stubBackend{numFaces: 2, box: domain.Box{X: 10, Y: 10, W: 50, H: 50}}
	s, _ := newTestSession(t, backend)
	_, err := s.Start(context.Background(), "alex", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := s.Process(context.Background())
		require.NoError(t, err)
		return res.Status == "multiple_faces"
	}, time.Second, time.Millisecond)
}

func TestFullSequenceSavesGallery(t *testing.T) {
	backend := &stubBackend{numFaces: 1, box: domain.Box{X: 10, Y: 10, W: 50, H: 50}}
	s, gs := newTestSession(t, backend)
	_, err := s.Start(context.Background(), "alex", false)
	require.NoError(t, err)

	baseX, baseY := backend.box.X, backend.box.Y

	var last Result
	for pose := 0; pose < len(poseSequence); pose++ {
		// Reassert the neutral position first so this pose's baseline is
		// anchored there, then move into the pose the way a subject
		// turning their head would.
		backend.box.X, backend.box.Y = baseX, baseY
		_, err := s.Process(context.Background())
		require.NoError(t, err)

		switch poseSequence[pose].Direction {
		case domain.DirLeft:
			backend.box.X = baseX - 100
		case domain.DirRight:
			backend.box.X = baseX + 100
		case domain.DirUp:
			backend.box.Y = baseY - 100
		case domain.DirDown:
			backend.box.Y = baseY + 100
		}

		for sample := 0; sample < 2; sample++ {
			require.Eventually(t, func() bool {
				res, err := s.Process(context.Background())
				require.NoError(t, err)
				return res.Status == "ready"
			}, time.Second, time.Millisecond)

			last, err = s.Capture(context.Background(), time.Now())
			require.NoError(t, err)
		}
	}

	assert.True(t, last.Completed)
	assert.False(t, s.Active())

	g, ok, err := gs.Load("alex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, g.Enrolled, len(poseSequence)*2)
}

func TestProcessNotReadyWhenPoseDoesNotMatchTarget(t *testing.T) {
	backend := &stubBackend{numFaces: 1, box: domain.Box{X: 10, Y: 10, W: 50, H: 50}}
	s, _ := newTestSession(t, backend)
	_, err := s.Start(context.Background(), "alex", false)
	require.NoError(t, err)

	// Advance past the Center pose into Left, which the fake tracker
	// never satisfies because the box stays put. Wait for the camera's
	// first frame so the first Process sees a face.
	require.Eventually(t, func() bool { _, ok := s.deps.Camera.Read(); return ok }, time.Second, time.Millisecond)
	res, err := s.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ready", res.Status)
	_, err = s.Capture(context.Background(), time.Now())
	require.NoError(t, err)
	_, err = s.Process(context.Background())
	require.NoError(t, err)
	_, err = s.Capture(context.Background(), time.Now())
	require.NoError(t, err)

	require.Equal(t, "Left", poseSequence[1].Name)
	for i := 0; i < 5; i++ {
		res, err := s.Process(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "instruct", res.Status)
	}

	_, err = s.Capture(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, "NO_FACE", err.(*domain.AppError).Code)
}

func TestCaptureWithoutReadyFails(t *testing.T) {
	backend := &stubBackend{numFaces: 0}
	s, _ := newTestSession(t, backend)
	_, err := s.Start(context.Background(), "alex", false)
	require.NoError(t, err)

	_, err = s.Capture(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, "NO_FACE", err.(*domain.AppError).Code)
}

func TestStopReleasesCameraWithoutSaving(t *testing.T) {
	backend := &stubBackend{numFaces: 1, box: domain.Box{X: 10, Y: 10, W: 50, H: 50}}
	s, gs := newTestSession(t, backend)
	_, err := s.Start(context.Background(), "alex", false)
	require.NoError(t, err)

	s.Stop()
	assert.False(t, s.Active())

	_, ok, err := gs.Load("alex")
	require.NoError(t, err)
	assert.False(t, ok)
}
