package domain

// TrackedTarget is the primary face locked onto across frames by the
// stability tracker. The Kalman state vector is
// [cx, cy, w, h, vx, vy]; only one target may be locked at a time.
type TrackedTarget struct {
	CX, CY   float64
	W, H     float64
	VX, VY   float64
	LostFrames int
	Confidence float64
	Locked     bool
}

// Box returns the target's current bounding box.
func (t TrackedTarget) Box() Box {
	return Box{X: t.CX - t.W/2, Y: t.CY - t.H/2, W: t.W, H: t.H}
}

// Predicted returns the box the target is expected to occupy next tick
// under the constant-velocity model, without mutating the target.
func (t TrackedTarget) Predicted() Box {
	cx, cy := t.CX+t.VX, t.CY+t.VY
	return Box{X: cx - t.W/2, Y: cy - t.H/2, W: t.W, H: t.H}
}
