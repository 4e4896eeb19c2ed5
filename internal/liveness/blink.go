// Package liveness implements C8 (blink detection) and C9 (the
// interactive liveness challenge).
package liveness

import (
	"math"
	"time"

	"github.com/projectsentinel/sentineld/internal/inference"
)

// BlinkState is a step in one eye's blink cycle.
type BlinkState string

const (
	BlinkOpen    BlinkState = "OPEN"
	BlinkClosing BlinkState = "CLOSING"
	BlinkClosed  BlinkState = "CLOSED"
	BlinkOpening BlinkState = "OPENING"
)

// BlinkConfig mirrors liveness.{ear_open,ear_closed} plus the minimum
// consecutive-frame count a closure must hold before counting as a real
// blink rather than a measurement blip, and the maximum wall-clock span
// a single OPEN->CLOSING->CLOSED->OPENING->OPEN cycle may take before it
// no longer counts as a blink at all.
type BlinkConfig struct {
	EAROpen          float64
	EARClosed        float64
	MinClosedFrames  int
	MaxBlinkDuration time.Duration
}

// BlinkDetector is one eye's half of C8: an eye-aspect-ratio state
// machine that completes one OPEN->CLOSING->CLOSED->OPENING->OPEN cycle
// per natural blink. It has no notion of the other eye; BlinkSync pairs
// two of these and requires both eyes to complete a cycle in sync
// before counting a real blink.
type BlinkDetector struct {
	cfg            BlinkConfig
	state          BlinkState
	closedFrames   int
	closingStarted time.Time
	count          int
}

func NewBlinkDetector(cfg BlinkConfig) *BlinkDetector {
	return &BlinkDetector{cfg: cfg, state: BlinkOpen}
}

// Reset returns the detector to OPEN with no accumulated closure and
// clears the running blink count.
func (b *BlinkDetector) Reset() {
	b.state = BlinkOpen
	b.closedFrames = 0
	b.count = 0
}

// Update feeds one frame's eye-aspect-ratio through the state machine and
// reports whether this call completed a blink. A closure that runs past
// MaxBlinkDuration since it started is discarded rather than counted,
// even once the eye reopens.
func (b *BlinkDetector) Update(ear float64, now time.Time) bool {
	blinked := false
	switch b.state {
	case BlinkOpen:
		if ear < b.cfg.EARClosed {
			b.state = BlinkClosing
			b.closingStarted = now
		}
	case BlinkClosing:
		if ear < b.cfg.EARClosed {
			b.closedFrames++
		} else {
			b.state = BlinkOpen
			b.closedFrames = 0
		}
	case BlinkClosed:
		if ear > b.cfg.EAROpen {
			b.state = BlinkOpening
		}
	case BlinkOpening:
		b.state = BlinkOpen
		b.closedFrames = 0
		if b.cfg.MaxBlinkDuration <= 0 || now.Sub(b.closingStarted) <= b.cfg.MaxBlinkDuration {
			b.count++
			blinked = true
		}
	}
	if b.state == BlinkClosing && b.closedFrames >= b.cfg.MinClosedFrames {
		b.state = BlinkClosed
	}
	return blinked
}

// BlinkCount returns the number of completed blinks since the last Reset.
func (b *BlinkDetector) BlinkCount() int { return b.count }

// BlinkSync pairs one BlinkDetector per eye and registers a blink only
// when both complete their own cycle within SyncWindow of each other.
// This is what catches a spoof that only covers one eye (a printed
// photo with a cutout, a video held at an angle): the uncovered eye can
// still cycle on its own, but its partner never completes within the
// window.
type BlinkSync struct {
	left, right *BlinkDetector
	syncWindow  time.Duration

	leftAt, rightAt time.Time
	count           int
}

func NewBlinkSync(cfg BlinkConfig, syncWindow time.Duration) *BlinkSync {
	return &BlinkSync{
		left:       NewBlinkDetector(cfg),
		right:      NewBlinkDetector(cfg),
		syncWindow: syncWindow,
	}
}

// Reset clears both eyes' state machines and any pending unmatched
// completion.
func (s *BlinkSync) Reset() {
	s.left.Reset()
	s.right.Reset()
	s.leftAt = time.Time{}
	s.rightAt = time.Time{}
	s.count = 0
}

// Update feeds one frame's per-eye EAR through both state machines and
// reports whether this call completed a synchronized blink.
func (s *BlinkSync) Update(leftEAR, rightEAR float64, now time.Time) bool {
	if s.left.Update(leftEAR, now) {
		s.leftAt = now
	}
	if s.right.Update(rightEAR, now) {
		s.rightAt = now
	}
	if s.leftAt.IsZero() || s.rightAt.IsZero() {
		return false
	}

	diff := s.leftAt.Sub(s.rightAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > s.syncWindow {
		return false
	}

	s.leftAt = time.Time{}
	s.rightAt = time.Time{}
	s.count++
	return true
}

// BlinkCount returns the number of completed synchronized blinks since
// the last Reset.
func (s *BlinkSync) BlinkCount() int { return s.count }

// EyeAspectRatio computes the classic 6-point EAR: (A+B)/(2C), where A
// and B are the two vertical eyelid distances and C is the horizontal
// eye width, over the contour ordering [outer, top1, top2, inner,
// bottom1, bottom2].
func EyeAspectRatio(pts [6]inference.MeshPoint) float64 {
	a := dist(pts[1], pts[5])
	b := dist(pts[2], pts[4])
	c := dist(pts[0], pts[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2 * c)
}

func dist(a, b inference.MeshPoint) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// EyeContour extracts one eye's 6-point contour from a full mesh via idx.
func EyeContour(mesh []inference.MeshPoint, idx [6]int) [6]inference.MeshPoint {
	var out [6]inference.MeshPoint
	for i, ix := range idx {
		if ix < len(mesh) {
			out[i] = mesh[ix]
		}
	}
	return out
}
