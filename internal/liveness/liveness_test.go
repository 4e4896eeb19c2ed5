package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

func TestBlinkDetectorFullCycle(t *testing.T) {
	b := NewBlinkDetector(BlinkConfig{EAROpen: 0.24, EARClosed: 0.19, MinClosedFrames: 2})
	now := time.Now()

	assert.False(t, b.Update(0.30, now)) // OPEN, ear high
	assert.False(t, b.Update(0.10, now)) // -> CLOSING
	assert.False(t, b.Update(0.10, now)) // CLOSING accrues frame 1
	assert.False(t, b.Update(0.10, now)) // CLOSING accrues frame 2 -> CLOSED
	assert.False(t, b.Update(0.30, now)) // CLOSED -> OPENING
	assert.True(t, b.Update(0.30, now))  // OPENING -> OPEN, blink registered
	assert.Equal(t, 1, b.BlinkCount())
}

func TestBlinkDetectorAbortedClosureDoesNotCount(t *testing.T) {
	b := NewBlinkDetector(BlinkConfig{EAROpen: 0.24, EARClosed: 0.19, MinClosedFrames: 5})
	now := time.Now()
	b.Update(0.10, now) // CLOSING
	b.Update(0.30, now) // reopens before min frames -> back to OPEN
	assert.Equal(t, 0, b.BlinkCount())
}

func TestBlinkDetectorReset(t *testing.T) {
	b := NewBlinkDetector(BlinkConfig{EAROpen: 0.24, EARClosed: 0.19, MinClosedFrames: 1})
	now := time.Now()
	b.Update(0.10, now)
	b.Update(0.10, now)
	b.Update(0.30, now)
	b.Update(0.30, now)
	assert.Equal(t, 1, b.BlinkCount())
	b.Reset()
	assert.Equal(t, 0, b.BlinkCount())
}

func TestBlinkDetectorDiscardsCycleOverMaxDuration(t *testing.T) {
	b := NewBlinkDetector(BlinkConfig{EAROpen: 0.24, EARClosed: 0.19, MinClosedFrames: 1, MaxBlinkDuration: 200 * time.Millisecond})
	start := time.Now()
	b.Update(0.10, start)                                            // CLOSING
	b.Update(0.10, start.Add(50*time.Millisecond))                   // CLOSED
	b.Update(0.30, start.Add(500*time.Millisecond))                  // CLOSED -> OPENING, well past max duration
	assert.False(t, b.Update(0.30, start.Add(500*time.Millisecond))) // OPENING -> OPEN, discarded
	assert.Equal(t, 0, b.BlinkCount())
}

func TestBlinkSyncRequiresBothEyesWithinWindow(t *testing.T) {
	cfg := BlinkConfig{EAROpen: 0.24, EARClosed: 0.19, MinClosedFrames: 1}
	s := NewBlinkSync(cfg, 100*time.Millisecond)
	start := time.Now()

	s.Update(0.10, 0.30, start)                                     // left CLOSING
	s.Update(0.10, 0.30, start.Add(10*time.Millisecond))            // left CLOSED
	s.Update(0.30, 0.10, start.Add(20*time.Millisecond))            // left OPENING, right CLOSING
	left := s.Update(0.30, 0.10, start.Add(30*time.Millisecond))    // left completes, right CLOSED
	assert.False(t, left)                                           // right hasn't completed yet
	s.Update(0.30, 0.30, start.Add(40*time.Millisecond))            // right OPENING
	blinked := s.Update(0.30, 0.30, start.Add(50*time.Millisecond)) // right completes -> synchronized
	assert.True(t, blinked)
	assert.Equal(t, 1, s.BlinkCount())
}

func TestBlinkSyncRejectsOneEyeOnly(t *testing.T) {
	cfg := BlinkConfig{EAROpen: 0.24, EARClosed: 0.19, MinClosedFrames: 1}
	s := NewBlinkSync(cfg, 50*time.Millisecond)
	start := time.Now()

	// Only the left eye ever closes; the right stays open the whole time,
	// as if covered by a static photo.
	s.Update(0.10, 0.30, start)
	s.Update(0.10, 0.30, start.Add(10*time.Millisecond))
	s.Update(0.30, 0.30, start.Add(20*time.Millisecond))
	blinked := s.Update(0.30, 0.30, start.Add(30*time.Millisecond))
	assert.False(t, blinked)
	assert.Equal(t, 0, s.BlinkCount())
}

func TestEyeAspectRatioWideOpenVsClosed(t *testing.T) {
	open := [6]inference.MeshPoint{
		{X: 0, Y: 5}, {X: 2, Y: 0}, {X: 4, Y: 0}, {X: 6, Y: 5}, {X: 4, Y: 10}, {X: 2, Y: 10},
	}
	closed := [6]inference.MeshPoint{
		{X: 0, Y: 5}, {X: 2, Y: 4.8}, {X: 4, Y: 4.8}, {X: 6, Y: 5}, {X: 4, Y: 5.2}, {X: 2, Y: 5.2},
	}
	assert.Greater(t, EyeAspectRatio(open), EyeAspectRatio(closed))
}

func TestValidatorHeadPoseLeftDirection(t *testing.T) {
	v := NewValidator(ValidatorConfig{ChallengeTimeout: 20 * time.Second, MotionFraction: 0.15, GraceFrames: 5})
	now := time.Now()
	v.Start(domain.DirLeft, now)

	assert.False(t, v.UpdateHeadPose(100, 100, 200))
	assert.False(t, v.UpdateHeadPose(95, 100, 200)) // within threshold (30px)
	assert.True(t, v.UpdateHeadPose(60, 100, 200))  // dx = -40 < -30
	assert.True(t, v.Challenge().DirectionMet)
}

func TestValidatorBlinkOnlyCountsAfterDirection(t *testing.T) {
	v := NewValidator(ValidatorConfig{ChallengeTimeout: 20 * time.Second, MotionFraction: 0.15, GraceFrames: 5})
	v.Start(domain.DirRight, time.Now())

	v.NoteBlink()
	assert.False(t, v.Challenge().BlinkSeen)

	v.UpdateHeadPose(100, 100, 200)
	v.UpdateHeadPose(160, 100, 200) // dx = +60 > 30
	v.NoteBlink()
	assert.True(t, v.Challenge().BlinkSeen)
	assert.True(t, v.Done())
}

func TestValidatorTimeout(t *testing.T) {
	v := NewValidator(ValidatorConfig{ChallengeTimeout: 10 * time.Millisecond, MotionFraction: 0.15, GraceFrames: 5})
	now := time.Now()
	v.Start(domain.DirUp, now)
	assert.True(t, v.TimedOut(now.Add(20*time.Millisecond)))
}

func TestValidatorFaceLossGrace(t *testing.T) {
	v := NewValidator(ValidatorConfig{ChallengeTimeout: 20 * time.Second, MotionFraction: 0.15, GraceFrames: 2})
	v.Start(domain.DirDown, time.Now())

	assert.False(t, v.NoteFaceLost())
	assert.False(t, v.NoteFaceLost())
	assert.True(t, v.NoteFaceLost())
}
