package domain

import "time"

// Gallery is a per-user ordered sequence of embeddings split into two
// logical segments: Enrolled (created at enrollment time, never evicted
// by adaptation) and Adaptive (a FIFO ring bounded by max_adaptive).
// Persisted as a single concatenated array plus a JSON sidecar header.
type Gallery struct {
	User          string
	Enrolled      []Embedding
	Adaptive      []Embedding
	CreatedAt     time.Time
	WearsGlasses  bool
}

// Header is the JSON sidecar persisted next to the concatenated npy
// embedding array.
type Header struct {
	CreatedAt       time.Time `json:"created_at"`
	SegmentBoundary int       `json:"segment_boundary"`
	WearsGlasses    bool      `json:"wears_glasses"`
}

// All returns enrolled and adaptive embeddings concatenated, enrolled first,
// matching the on-disk order implied by SegmentBoundary.
func (g *Gallery) All() []Embedding {
	out := make([]Embedding, 0, len(g.Enrolled)+len(g.Adaptive))
	out = append(out, g.Enrolled...)
	out = append(out, g.Adaptive...)
	return out
}

// Usable reports whether the gallery has enough enrolled samples to be
// used for matching (|enrolled| >= min_enrolled).
func (g *Gallery) Usable(minEnrolled int) bool {
	return len(g.Enrolled) >= minEnrolled
}

// Expired reports whether the gallery has aged past maxAge relative to now.
// A gallery aged exactly maxAge is still valid.
func (g *Gallery) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(g.CreatedAt) > maxAge
}

// AppendAdaptive appends emb to the adaptive segment, evicting the oldest
// adaptive entry (FIFO) once the segment exceeds maxAdaptive.
func (g *Gallery) AppendAdaptive(emb Embedding, maxAdaptive int) {
	g.Adaptive = append(g.Adaptive, emb)
	if len(g.Adaptive) > maxAdaptive {
		g.Adaptive = g.Adaptive[len(g.Adaptive)-maxAdaptive:]
	}
}

// MatchResult is the outcome of comparing a probe embedding against a
// gallery: the smallest cosine distance found and the write time used to
// break ties across users.
type MatchResult struct {
	User        string
	Distance    float64
	LastWriteAt time.Time
}
