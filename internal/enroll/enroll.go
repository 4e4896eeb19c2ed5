// Package enroll implements the enrollment session: a fixed five-pose
// sequence, four samples per pose, that produces a new user's gallery
// via the start_enrollment / process_enroll_frame / capture_enroll_pose
// / stop_enrollment RPCs.
package enroll

import (
	"context"
	"time"

	"github.com/projectsentinel/sentineld/internal/camera"
	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/embed"
	"github.com/projectsentinel/sentineld/internal/gallery"
	"github.com/projectsentinel/sentineld/internal/inference"
	"github.com/projectsentinel/sentineld/internal/liveness"
	"github.com/projectsentinel/sentineld/internal/vision"
)

// Pose is one step in the fixed enrollment sequence.
type Pose struct {
	Name        string
	Instruction string
	Direction   domain.Direction
}

var poseSequence = []Pose{
	{Name: "Center", Instruction: "Look directly at the camera", Direction: domain.DirCenter},
	{Name: "Left", Instruction: "Turn head LEFT", Direction: domain.DirLeft},
	{Name: "Right", Instruction: "Turn head RIGHT", Direction: domain.DirRight},
	{Name: "Up", Instruction: "Tilt head UP", Direction: domain.DirUp},
	{Name: "Down", Instruction: "Tilt head DOWN", Direction: domain.DirDown},
}

// Config tunes the sample count per pose and the same head-pose motion
// scaling the liveness challenge uses.
type Config struct {
	SamplesPerPose     int
	PoseMotionFraction float64
}

// Deps bundles the shared pipeline components an enrollment session
// reuses from the authenticator: detection and embedding extraction
// apply identically during enrollment.
type Deps struct {
	Camera    *camera.Source
	Detector  *vision.Detector
	Tracker   *vision.Tracker
	Extractor *embed.Extractor
	Galleries *gallery.Store
}

// Session drives one enrollment from start to a saved gallery.
type Session struct {
	cfg  Config
	deps Deps

	user         string
	wearsGlasses bool
	poseIdx      int
	sampleCount  int
	samples      []domain.Embedding

	lastReady bool
	lastCrop  inference.Frame
	lastBox   domain.Box
	active    bool

	haveBaseline bool
	baselineX    float64
	baselineY    float64
}

func NewSession(cfg Config, deps Deps) *Session {
	return &Session{cfg: cfg, deps: deps}
}

// Start begins a new session for user, refusing if a gallery already
// exists (mirrors start_enrollment's "already enrolled" guard).
func (s *Session) Start(ctx context.Context, user string, wearsGlasses bool) (Result, error) {
	if _, ok, err := s.deps.Galleries.Load(user); err != nil {
		return Result{}, err
	} else if ok {
		return Result{}, domain.ErrUserAlreadyEnrolled
	}

	if err := s.deps.Camera.Start(ctx); err != nil {
		return Result{}, err
	}
	s.deps.Tracker.Reset()

	s.user = user
	s.wearsGlasses = wearsGlasses
	s.poseIdx = 0
	s.sampleCount = 0
	s.samples = nil
	s.lastReady = false
	s.active = true
	s.haveBaseline = false

	return Result{
		CurrentPose: 0,
		TotalPoses:  len(poseSequence),
		PoseInfo:    poseSequence[0],
		Status:      "instruct",
	}, nil
}

// Stop discards the in-progress session and releases the camera,
// without saving anything.
func (s *Session) Stop() {
	if s.active {
		s.deps.Camera.Stop()
	}
	s.active = false
}

// Active reports whether an enrollment session is in progress.
func (s *Session) Active() bool { return s.active }

// LastFrame returns the camera frame backing the last "ready" pose, for
// the RPC layer's frame passthrough on process_enroll_frame.
func (s *Session) LastFrame() inference.Frame {
	return s.lastCrop
}

// Result is what one Process or Capture call reports back to the RPC
// layer.
type Result struct {
	Completed   bool
	CurrentPose int
	TotalPoses  int
	PoseInfo    Pose
	Status      string // no_face|multiple_faces|ready|instruct
	Box         *domain.Box
	Message     string
}

// Process runs one detection tick against the live camera and reports
// whether the current pose is ready to capture.
func (s *Session) Process(ctx context.Context) (Result, error) {
	if !s.active {
		return Result{}, domain.ErrInternal
	}
	if s.poseIdx >= len(poseSequence) {
		return Result{Completed: true, Message: "enrollment complete"}, nil
	}

	frame, ok := s.deps.Camera.Read()
	if !ok {
		s.lastReady = false
		return Result{CurrentPose: s.poseIdx, TotalPoses: len(poseSequence), PoseInfo: poseSequence[s.poseIdx], Status: "no_face"}, nil
	}
	infFrame := inference.Frame{Pixels: frame.Pixels, Width: frame.Width, Height: frame.Height, Order: frame.Order}

	dets, err := s.deps.Detector.Detect(ctx, infFrame)
	if err != nil {
		return Result{}, domain.ErrModelInfer.WithError(err)
	}

	res := Result{CurrentPose: s.poseIdx, TotalPoses: len(poseSequence), PoseInfo: poseSequence[s.poseIdx]}
	switch {
	case len(dets) == 0:
		res.Status = "no_face"
		s.lastReady = false
	case len(dets) > 1:
		res.Status = "multiple_faces"
		s.lastReady = false
	default:
		target := s.deps.Tracker.Update(dets)
		if !target.Locked {
			res.Status = "no_face"
			s.lastReady = false
			break
		}
		box := target.Box()
		res.Box = &box

		if !s.haveBaseline {
			s.baselineX, s.baselineY = target.CX, target.CY
			s.haveBaseline = true
		}
		dx, dy := target.CX-s.baselineX, target.CY-s.baselineY
		dir := poseSequence[s.poseIdx].Direction
		if !liveness.PoseDirectionMet(dir, dx, dy, box.W, s.cfg.PoseMotionFraction) {
			res.Status = "instruct"
			s.lastReady = false
			break
		}

		res.Status = "ready"
		s.lastReady = true
		s.lastCrop = infFrame
		s.lastBox = box
	}
	return res, nil
}

// Capture persists the current pose's sample if the last Process call
// reported "ready", advancing to the next pose once SamplesPerPose
// samples have been collected, and saving the gallery once every pose
// is done.
func (s *Session) Capture(ctx context.Context, now time.Time) (Result, error) {
	if !s.active {
		return Result{}, domain.ErrInternal
	}
	if s.poseIdx >= len(poseSequence) {
		return Result{Completed: true}, nil
	}
	if !s.lastReady {
		return Result{}, domain.ErrNoFace
	}

	emb, err := s.deps.Extractor.Extract(ctx, s.lastCrop, s.lastBox)
	if err != nil {
		return Result{}, domain.ErrModelInfer.WithError(err)
	}
	s.samples = append(s.samples, emb)
	s.sampleCount++
	s.lastReady = false

	if s.sampleCount < s.cfg.SamplesPerPose {
		return Result{CurrentPose: s.poseIdx, TotalPoses: len(poseSequence), PoseInfo: poseSequence[s.poseIdx]}, nil
	}

	s.poseIdx++
	s.sampleCount = 0
	s.haveBaseline = false
	if s.poseIdx >= len(poseSequence) {
		return s.finish(now)
	}
	return Result{CurrentPose: s.poseIdx, TotalPoses: len(poseSequence), PoseInfo: poseSequence[s.poseIdx]}, nil
}

func (s *Session) finish(now time.Time) (Result, error) {
	g := domain.Gallery{
		User:         s.user,
		Enrolled:     s.samples,
		CreatedAt:    now,
		WearsGlasses: s.wearsGlasses,
	}
	if err := s.deps.Galleries.Save(g); err != nil {
		return Result{}, err
	}
	s.deps.Camera.Stop()
	s.active = false
	return Result{Completed: true, Message: "enrollment saved"}, nil
}
