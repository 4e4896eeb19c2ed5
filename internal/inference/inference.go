// Package inference defines the model-serving boundary used by every
// vision-adjacent component (detection, recognition, mesh landmarks,
// antispoof scoring). sentineld never talks to a model runtime
// directly; it talks to a Backend, so the runtime backing it can be
// swapped without touching the domain logic wired above it.
package inference

import (
	"context"
	"errors"

	"github.com/projectsentinel/sentineld/internal/domain"
)

// ErrUnsupported is returned by a Backend that does not implement a
// given capability. Callers that need the capability should surface
// this as domain.ErrModelInfer.
var ErrUnsupported = errors.New("inference: capability not supported by backend")

// Frame is a raw decoded image plus its dimensions, in row-major RGB or
// BGR byte order per Order.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
	Order  domain.ColorOrder
}

// MeshPoint is one of a dense facial landmark mesh's vertices, in pixel
// coordinates relative to the source frame.
type MeshPoint struct {
	X, Y float64
}

// Backend is the capability set a model provider may implement. A
// concrete backend need not implement every method meaningfully — it
// should return ErrUnsupported for capabilities it lacks, so callers
// can degrade rather than crash: an offline capability probe instead
// of a fixed method set every provider must fully implement.
type Backend interface {
	// Detect returns zero or more face candidates in frame.
	Detect(ctx context.Context, frame Frame) ([]domain.FaceDetection, error)

	// Recognize extracts a fixed-length embedding for the face in box.
	Recognize(ctx context.Context, frame Frame, box domain.Box) ([]float64, error)

	// Mesh returns dense facial landmarks for the face in box, used for
	// EAR computation and head-pose estimation.
	Mesh(ctx context.Context, frame Frame, box domain.Box) ([]MeshPoint, error)

	// AntispoofProbs returns the anti-spoof classifier's raw class
	// probabilities for the face in box (spoof-print / spoof-replay /
	// live, in model-native order). Callers pick which index means
	// "live" per the site's calibrated configuration, since that
	// mapping is itself something auto-calibration discovers.
	AntispoofProbs(ctx context.Context, frame Frame, box domain.Box) ([]float64, error)

	// Warmup performs any one-time initialization (model load, first
	// dummy inference) so that steady-state calls are latency-stable.
	Warmup(ctx context.Context) error

	// Name identifies the backend for logging and calibration cache keys.
	Name() string
}
