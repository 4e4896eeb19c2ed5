// Package embed implements C5, the embedding extractor: it turns a
// locked face crop into a unit-norm descriptor suitable for gallery
// matching.
package embed

import (
	"context"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

// Extractor wraps an inference.Backend's Recognize capability and
// normalizes its output into a domain.Embedding.
type Extractor struct {
	backend inference.Backend
}

func NewExtractor(backend inference.Backend) *Extractor {
	return &Extractor{backend: backend}
}

// Extract runs the backend over the face in box and L2-normalizes the
// result. The backend is free to return any positive-length vector; the
// gallery only ever compares embeddings pairwise, so a fixed dimension
// across a single deployment (not across backends) is the only
// requirement.
func (e *Extractor) Extract(ctx context.Context, frame inference.Frame, box domain.Box) (domain.Embedding, error) {
	raw, err := e.backend.Recognize(ctx, frame, box)
	if err != nil {
		return domain.Embedding{}, domain.ErrModelInfer.WithError(err)
	}
	if len(raw) == 0 {
		return domain.Embedding{}, domain.ErrModelInfer
	}
	return domain.NewEmbedding(raw), nil
}

// Mesh exposes the backend's dense landmark mesh for the face in box,
// used by the liveness challenge (C9) for EAR computation and head-pose
// displacement. It lives here rather than in a dedicated package because
// it shares the same backend handle as Extract and has no state of its
// own to justify one.
func (e *Extractor) Mesh(ctx context.Context, frame inference.Frame, box domain.Box) ([]inference.MeshPoint, error) {
	pts, err := e.backend.Mesh(ctx, frame, box)
	if err != nil {
		return nil, domain.ErrModelInfer.WithError(err)
	}
	return pts, nil
}
