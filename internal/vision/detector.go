// Package vision implements face detection filtering (C2) and the
// cross-frame stability tracker (C3) that sits between the raw frame
// source and every downstream biometric component.
package vision

import (
	"context"
	"sort"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

// DetectorConfig mirrors the detector's tunables.
type DetectorConfig struct {
	ScoreMin  float64
	MinFacePx int
	MaxFaces  int
}

// Detector runs the configured inference backend over a full frame and
// applies the score/size/count policy. It holds no per-frame state; it
// is safe to call repeatedly from the session loop.
type Detector struct {
	backend inference.Backend
	cfg     DetectorConfig
}

func NewDetector(backend inference.Backend, cfg DetectorConfig) *Detector {
	return &Detector{backend: backend, cfg: cfg}
}

// Detect returns valid detections sorted by area descending, capped at
// MaxFaces. Deterministic given identical input and backend.
func (d *Detector) Detect(ctx context.Context, frame inference.Frame) ([]domain.FaceDetection, error) {
	raw, err := d.backend.Detect(ctx, frame)
	if err != nil {
		return nil, domain.ErrModelInfer.WithError(err)
	}

	valid := make([]domain.FaceDetection, 0, len(raw))
	for _, f := range raw {
		if f.Valid(d.cfg.ScoreMin, d.cfg.MinFacePx) {
			valid = append(valid, f)
		}
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].Box.Area() > valid[j].Box.Area()
	})

	if len(valid) > d.cfg.MaxFaces {
		valid = valid[:d.cfg.MaxFaces]
	}
	return valid, nil
}
