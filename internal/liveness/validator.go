package liveness

import (
	"time"

	"github.com/projectsentinel/sentineld/internal/domain"
)

// ValidatorConfig mirrors liveness.{challenge_timeout,head_angle_threshold,
// blink_sync_window_ms} and the face-loss grace period.
type ValidatorConfig struct {
	ChallengeTimeout time.Duration
	MotionFraction   float64 // fraction of face width the nose must travel
	GraceFrames      int
}

// Validator is C9: it drives one interactive liveness challenge across
// ticks. Head-pose progress is measured as nose-centroid displacement
// from the position captured when the challenge started, scaled by the
// locked face width, mirroring the prototype's motion_threshold approach
// rather than a full PnP head-pose solve (no landmark-to-3D-model
// correspondence is available without a calibrated camera intrinsics
// matrix).
type Validator struct {
	cfg ValidatorConfig

	active     bool
	challenge  *domain.Challenge
	startNoseX float64
	startNoseY float64
	haveStart  bool
	lostFrames int
}

func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Start begins a new challenge with the given randomized direction and
// deadline anchored to now.
func (v *Validator) Start(dir domain.Direction, now time.Time) *domain.Challenge {
	v.active = true
	v.haveStart = false
	v.lostFrames = 0
	v.challenge = &domain.Challenge{
		Direction: dir,
		IssuedAt:  now,
		Deadline:  now.Add(v.cfg.ChallengeTimeout),
	}
	return v.challenge
}

// Reset clears any in-progress challenge.
func (v *Validator) Reset() {
	v.active = false
	v.challenge = nil
	v.haveStart = false
	v.lostFrames = 0
}

// Active reports whether a challenge is currently in progress.
func (v *Validator) Active() bool { return v.active }

// TimedOut reports whether the challenge deadline has passed.
func (v *Validator) TimedOut(now time.Time) bool {
	return v.active && !now.Before(v.challenge.Deadline)
}

// NoteFaceLost increments the consecutive-frame face-loss counter and
// reports whether the grace window has been exceeded, in which case the
// caller should fail the challenge rather than the whole session
// resetting to ACQUIRE: it fails if the face track is lost for more
// than challenge_grace_ms.
func (v *Validator) NoteFaceLost() bool {
	v.lostFrames++
	return v.lostFrames > v.cfg.GraceFrames
}

// NoteFaceSeen clears the face-loss counter.
func (v *Validator) NoteFaceSeen() { v.lostFrames = 0 }

// UpdateHeadPose feeds the current nose position (approximated as the
// locked target's box landmark centroid) and locked
// face width through the direction-displacement test. It returns true
// once the configured direction has been reached.
func (v *Validator) UpdateHeadPose(noseX, noseY, faceWidth float64) bool {
	if !v.active || v.challenge.DirectionMet {
		return v.challenge != nil && v.challenge.DirectionMet
	}
	if !v.haveStart {
		v.startNoseX, v.startNoseY = noseX, noseY
		v.haveStart = true
	}
	dx := noseX - v.startNoseX
	dy := noseY - v.startNoseY
	if PoseDirectionMet(v.challenge.Direction, dx, dy, faceWidth, v.cfg.MotionFraction) {
		v.challenge.DirectionMet = true
	}
	return v.challenge.DirectionMet
}

// PoseDirectionMet reports whether a nose displacement (dx, dy) from a
// baseline position, scaled by faceWidth, satisfies dir's motion
// threshold. Shared by the interactive challenge above and enrollment's
// per-pose stability check, which needs the identical geometry without
// the challenge's deadline/blink bookkeeping.
func PoseDirectionMet(dir domain.Direction, dx, dy, faceWidth, motionFraction float64) bool {
	threshold := faceWidth * motionFraction
	switch dir {
	case domain.DirLeft:
		return dx < -threshold
	case domain.DirRight:
		return dx > threshold
	case domain.DirUp:
		return dy < -threshold
	case domain.DirDown:
		return dy > threshold
	case domain.DirCenter:
		return dx > -threshold && dx < threshold && dy > -threshold && dy < threshold
	}
	return false
}

// NoteBlink records a blink observation. The blink only counts once
// the direction requirement has already been met.
func (v *Validator) NoteBlink() {
	if v.active && v.challenge.DirectionMet {
		v.challenge.BlinkSeen = true
	}
}

// Done reports whether both challenge legs have completed.
func (v *Validator) Done() bool {
	return v.active && v.challenge.Done()
}

// Challenge returns the in-progress challenge, or nil if none is active.
func (v *Validator) Challenge() *domain.Challenge { return v.challenge }
