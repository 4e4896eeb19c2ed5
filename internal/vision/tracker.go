package vision

import (
	"github.com/projectsentinel/sentineld/internal/domain"
)

// TrackerConfig mirrors the reassociation tunables.
type TrackerConfig struct {
	IoUReassoc    float64
	MaxLostFrames int
	ProcessNoise  float64
	MeasNoise     float64
}

// Tracker implements C3: Kalman-smoothed primary-face locking across
// frames, so a single subject's box stays stable while spurious or
// teleporting detections are rejected.
type Tracker struct {
	cfg TrackerConfig

	kx, ky, kw, kh *scalarKalman
	target         domain.TrackedTarget
}

func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg: cfg,
		kx:  newScalarKalman(cfg.ProcessNoise, cfg.MeasNoise),
		ky:  newScalarKalman(cfg.ProcessNoise, cfg.MeasNoise),
		kw:  newScalarKalman(cfg.ProcessNoise, cfg.MeasNoise),
		kh:  newScalarKalman(cfg.ProcessNoise, cfg.MeasNoise),
	}
}

// Reset drops the locked target and clears all filter state; entering
// INIT resets C3.
func (t *Tracker) Reset() {
	t.kx.Reset()
	t.ky.Reset()
	t.kw.Reset()
	t.kh.Reset()
	t.target = domain.TrackedTarget{}
}

// Locked reports whether a target is currently locked.
func (t *Tracker) Locked() bool { return t.target.Locked }

// Target returns the current locked target; callers must check Locked
// first.
func (t *Tracker) Target() domain.TrackedTarget { return t.target }

// Update runs one tracker tick against this frame's detections and
// returns the (possibly still empty) locked target.
//
// Algorithm:
//  1. Predict the locked target's next box under the constant-velocity
//     model.
//  2. Among detections, select the best IoU match to the prediction;
//     accept iff IoU >= IoUReassoc.
//  3. On accept, correct the Kalman filters with the matched detection
//     and reset LostFrames; on miss, increment LostFrames and keep the
//     predicted box.
//  4. If LostFrames exceeds MaxLostFrames, drop the target; the next
//     detection becomes the new locked target unconditionally (already
//     filtered to >= min_face_px by the detector).
func (t *Tracker) Update(detections []domain.FaceDetection) domain.TrackedTarget {
	if !t.target.Locked {
		if len(detections) == 0 {
			return t.target
		}
		t.lock(detections[0])
		return t.target
	}

	predicted := t.target.Predicted()
	best, bestIoU := -1, 0.0
	for i, d := range detections {
		iou := predicted.IoU(d.Box)
		if iou > bestIoU {
			bestIoU, best = iou, i
		}
	}

	if best >= 0 && bestIoU >= t.cfg.IoUReassoc {
		t.correct(detections[best])
		t.target.LostFrames = 0
		t.target.Confidence = detections[best].Score
		return t.target
	}

	t.target.LostFrames++
	t.target.CX, t.target.CY = predicted.Center()
	t.target.W, t.target.H = predicted.W, predicted.H

	if t.target.LostFrames > t.cfg.MaxLostFrames {
		t.Reset()
		if len(detections) > 0 {
			t.lock(detections[0])
		}
	}
	return t.target
}

func (t *Tracker) lock(d domain.FaceDetection) {
	cx, cy := d.Box.Center()
	t.kx.Init(cx)
	t.ky.Init(cy)
	t.kw.Init(d.Box.W)
	t.kh.Init(d.Box.H)
	t.target = domain.TrackedTarget{
		CX: cx, CY: cy, W: d.Box.W, H: d.Box.H,
		VX: 0, VY: 0, LostFrames: 0, Confidence: d.Score, Locked: true,
	}
}

func (t *Tracker) correct(d domain.FaceDetection) {
	cx, cy := d.Box.Center()
	t.target.CX = t.kx.Update(cx)
	t.target.CY = t.ky.Update(cy)
	t.target.W = t.kw.Update(d.Box.W)
	t.target.H = t.kh.Update(d.Box.H)
	t.target.VX = t.kx.Velocity()
	t.target.VY = t.ky.Velocity()
}
