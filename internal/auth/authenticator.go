package auth

import (
	"context"
	"time"

	"github.com/projectsentinel/sentineld/internal/antispoof"
	"github.com/projectsentinel/sentineld/internal/blacklist"
	"github.com/projectsentinel/sentineld/internal/camera"
	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/embed"
	"github.com/projectsentinel/sentineld/internal/gallery"
	"github.com/projectsentinel/sentineld/internal/inference"
	"github.com/projectsentinel/sentineld/internal/liveness"
	"github.com/projectsentinel/sentineld/internal/vision"
)

// Config mirrors the security.* thresholds an Authenticator session is
// bound to.
type Config struct {
	GoldenThreshold      float64
	StandardThreshold    float64
	TwoFAThreshold       float64
	MaxRetries           int
	GlobalSessionTimeout time.Duration
}

// Authenticator is C10: the state machine composing C1-C9 into one
// authentication session. One instance is reused across
// sessions; Start resets it into INIT.
type Authenticator struct {
	cfg Config

	cam       *camera.Source
	detector  *vision.Detector
	tracker   *vision.Tracker
	blacklist *blacklist.Manager
	spoof     *antispoof.Detector
	extractor *embed.Extractor
	galleries *gallery.Store
	blink     *liveness.BlinkSync
	validator *liveness.Validator
	adaptive  *AdaptiveManager

	meshLeftIdx, meshRightIdx [6]int

	session *domain.AuthSession

	targetUser  string
	users       []string
	sessionFail int
	lastCrop    inference.Frame
	lastBox     domain.Box
	lastProbe   domain.Embedding
	lastUser    string
	lastDist    float64
	lastTier    domain.Tier
}

// Deps bundles the component instances an Authenticator composes.
type Deps struct {
	Camera          *camera.Source
	Detector        *vision.Detector
	Tracker         *vision.Tracker
	Blacklist       *blacklist.Manager
	Spoof           *antispoof.Detector
	Extractor       *embed.Extractor
	Galleries       *gallery.Store
	Blink           *liveness.BlinkSync
	Validator       *liveness.Validator
	Adaptive        *AdaptiveManager
	MeshLeftEyeIdx  [6]int
	MeshRightEyeIdx [6]int
}

func NewAuthenticator(cfg Config, d Deps) *Authenticator {
	return &Authenticator{
		cfg:          cfg,
		cam:          d.Camera,
		detector:     d.Detector,
		tracker:      d.Tracker,
		blacklist:    d.Blacklist,
		spoof:        d.Spoof,
		extractor:    d.Extractor,
		galleries:    d.Galleries,
		blink:        d.Blink,
		validator:    d.Validator,
		adaptive:     d.Adaptive,
		meshLeftIdx:  d.MeshLeftEyeIdx,
		meshRightIdx: d.MeshRightEyeIdx,
	}
}

// Start begins a new session for targetUser ("" for global best-match).
// It checks the target user's gallery, opens the camera, resets the
// tracker, blink detector and challenge validator, and zeroes the
// per-session intrusion counter.
func (a *Authenticator) Start(ctx context.Context, targetUser string, users []string, now time.Time) error {
	if targetUser != "" {
		g, ok, err := a.galleries.Load(targetUser)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrUnenrolledUser
		}
		if a.galleries.Expired(g, now) {
			return domain.ErrBiometricsExpired
		}
	}

	if err := a.cam.Start(ctx); err != nil {
		return err
	}
	a.tracker.Reset()
	a.blink.Reset()
	a.validator.Reset()

	a.targetUser = targetUser
	a.users = users
	a.sessionFail = 0
	a.lastUser, a.lastDist, a.lastTier = "", 0, ""

	a.session = &domain.AuthSession{
		State:        domain.StateAcquire,
		SessionStart: now,
		Deadline:     now.Add(a.cfg.GlobalSessionTimeout),
	}
	return nil
}

// Stop cancels the session and releases the camera on any terminal
// state, and on explicit stop / cancellation.
func (a *Authenticator) Stop() {
	if a.session != nil && !isTerminal(a.session.State) {
		a.session.State = domain.StateFailure
	}
	a.cam.Stop()
}

func isTerminal(s domain.State) bool {
	switch s {
	case domain.StateSuccess, domain.StateRequire2FA, domain.StateFailure:
		return true
	}
	return false
}

// TickResult is what one Tick call reports back to the RPC layer.
type TickResult struct {
	State   domain.State
	Outcome string // set only on terminal states: SUCCESS/FAILURE-kind code/REQUIRE_2FA
	User    string
	Dist    float64
	Tier    domain.Tier
	Box     *domain.Box
	Message string
}

// Tick advances the session by exactly one pipeline step through the
// state table. It is cooperative: cancellation and the global deadline
// are checked before any inference call.
func (a *Authenticator) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	if a.session == nil {
		return TickResult{}, domain.ErrInternal
	}
	if err := ctx.Err(); err != nil {
		return a.fail(domain.ErrCancelled)
	}
	if a.session.TimedOut(now) {
		return a.fail(domain.ErrTimeout)
	}

	switch a.session.State {
	case domain.StateAcquire:
		return a.tickAcquire(ctx, now)
	case domain.StatePrematch:
		return a.tickPrematch(ctx)
	case domain.StateSpoofCheck:
		return a.tickSpoofCheck(ctx)
	case domain.StateSpoofRetry:
		return a.tickSpoofRetry()
	case domain.StateMatch:
		return a.tickMatch(ctx, now)
	case domain.StateChallenge:
		return a.tickChallenge(ctx, now)
	case domain.StateIntrusion:
		return a.tickIntrusion(ctx)
	default:
		return TickResult{State: a.session.State}, nil
	}
}

func (a *Authenticator) tickAcquire(ctx context.Context, now time.Time) (TickResult, error) {
	frame, ok := a.cam.Read()
	if !ok {
		if err := a.cam.Err(); err != nil {
			return a.fail(domain.ErrNoCamera.WithError(err))
		}
		return TickResult{State: domain.StateAcquire, Message: "waiting for camera"}, nil
	}
	infFrame := inference.Frame{Pixels: frame.Pixels, Width: frame.Width, Height: frame.Height, Order: frame.Order}

	dets, err := a.detector.Detect(ctx, infFrame)
	if err != nil {
		return a.fail(domain.ErrModelInfer)
	}
	target := a.tracker.Update(dets)
	if !target.Locked {
		return TickResult{State: domain.StateAcquire, Message: "no face locked"}, nil
	}

	box := target.Box()
	a.lastCrop = infFrame
	a.lastBox = box
	a.session.State = domain.StatePrematch
	return TickResult{State: a.session.State, Box: &box}, nil
}

func (a *Authenticator) tickPrematch(ctx context.Context) (TickResult, error) {
	probe, err := a.extractor.Extract(ctx, a.lastCrop, a.lastBox)
	if err != nil {
		return a.fail(domain.ErrModelInfer)
	}
	a.lastProbe = probe

	if id, _, hit := a.blacklist.PreMatch(probe); hit {
		a.blacklist.RecordHit(id)
		return a.fail(domain.ErrBlockedIntruder)
	}

	a.session.State = domain.StateSpoofCheck
	return TickResult{State: a.session.State}, nil
}

func (a *Authenticator) tickSpoofCheck(ctx context.Context) (TickResult, error) {
	if a.spoof.IsCalibrating() {
		if err := a.spoof.CalibrateTick(ctx, a.lastCrop, a.lastBox); err != nil {
			return a.fail(domain.ErrModelInfer)
		}
		return TickResult{State: domain.StateSpoofCheck, Message: "calibrating anti-spoof"}, nil
	}

	res, err := a.spoof.Predict(ctx, a.lastCrop, a.lastBox)
	if err != nil {
		return a.fail(domain.ErrModelInfer)
	}
	if !res.IsLive {
		a.session.State = domain.StateSpoofRetry
		return TickResult{State: a.session.State}, nil
	}
	a.session.State = domain.StateMatch
	return TickResult{State: a.session.State}, nil
}

func (a *Authenticator) tickSpoofRetry() (TickResult, error) {
	a.session.Attempts++
	if a.session.Attempts >= a.cfg.MaxRetries {
		return a.fail(domain.ErrSpoof)
	}
	a.tracker.Reset()
	a.blink.Reset()
	a.validator.Reset()
	a.session.State = domain.StateAcquire
	return TickResult{State: a.session.State}, nil
}

func (a *Authenticator) tickMatch(ctx context.Context, now time.Time) (TickResult, error) {
	candidates := a.users
	if a.targetUser != "" {
		candidates = []string{a.targetUser}
	}

	result, ok, err := a.galleries.Match(a.lastProbe, candidates, now)
	if err != nil {
		return a.fail(domain.ErrModelInfer)
	}
	if !ok {
		if a.targetUser != "" {
			if g, loaded, lerr := a.galleries.Load(a.targetUser); lerr == nil && loaded && a.galleries.Expired(g, now) {
				return a.fail(domain.ErrBiometricsExpired)
			}
			return a.fail(domain.ErrUnenrolledUser)
		}
		return a.tickIntrusion(ctx)
	}

	a.lastUser, a.lastDist = result.User, result.Distance

	switch {
	case result.Distance <= a.cfg.GoldenThreshold:
		a.lastTier = domain.TierGolden
		return a.startChallenge()
	case result.Distance <= a.cfg.StandardThreshold:
		a.lastTier = domain.TierStandard
		return a.succeed()
	case result.Distance <= a.cfg.TwoFAThreshold:
		a.lastTier = domain.TierTwoFactor
		a.session.State = domain.StateRequire2FA
		return TickResult{State: a.session.State, Outcome: "REQUIRE_2FA", User: a.lastUser, Dist: a.lastDist, Tier: a.lastTier}, nil
	default:
		return a.tickIntrusion(ctx)
	}
}

func (a *Authenticator) startChallenge() (TickResult, error) {
	dir := randomDirection()
	a.session.State = domain.StateChallenge
	a.session.Challenge = a.validator.Start(dir, a.session.SessionStart)
	return TickResult{State: a.session.State, User: a.lastUser, Dist: a.lastDist, Tier: a.lastTier}, nil
}

func (a *Authenticator) tickChallenge(ctx context.Context, now time.Time) (TickResult, error) {
	if a.validator.TimedOut(now) {
		return a.retryChallenge()
	}

	frame, ok := a.cam.Read()
	if !ok {
		if a.validator.NoteFaceLost() {
			return a.fail(domain.ErrLiveness)
		}
		return TickResult{State: a.session.State}, nil
	}
	infFrame := inference.Frame{Pixels: frame.Pixels, Width: frame.Width, Height: frame.Height, Order: frame.Order}

	dets, err := a.detector.Detect(ctx, infFrame)
	if err != nil {
		return a.fail(domain.ErrModelInfer)
	}
	target := a.tracker.Update(dets)
	if !target.Locked {
		if a.validator.NoteFaceLost() {
			return a.fail(domain.ErrLiveness)
		}
		return TickResult{State: a.session.State}, nil
	}
	a.validator.NoteFaceSeen()

	box := target.Box()
	a.validator.UpdateHeadPose(target.CX, target.CY, box.W)

	mesh, err := a.extractor.Mesh(ctx, infFrame, box)
	if err == nil && len(mesh) > 0 {
		leftEAR := liveness.EyeAspectRatio(liveness.EyeContour(mesh, a.meshLeftIdx))
		rightEAR := liveness.EyeAspectRatio(liveness.EyeContour(mesh, a.meshRightIdx))
		if a.blink.Update(leftEAR, rightEAR, now) {
			a.validator.NoteBlink()
		}
	}

	if !a.validator.Done() {
		return TickResult{State: a.session.State, Box: &box}, nil
	}
	return a.succeed()
}

// retryChallenge counts a challenge timeout against the same shared
// retry budget as a spoof failure, per SPOOFRETRY's generalization.
func (a *Authenticator) retryChallenge() (TickResult, error) {
	a.session.Attempts++
	if a.session.Attempts >= a.cfg.MaxRetries {
		return a.fail(domain.ErrLiveness)
	}
	a.tracker.Reset()
	a.blink.Reset()
	a.validator.Reset()
	a.session.State = domain.StateAcquire
	return TickResult{State: a.session.State}, nil
}

func (a *Authenticator) tickIntrusion(ctx context.Context) (TickResult, error) {
	a.session.State = domain.StateIntrusion
	screenshot := a.lastCrop.Pixels
	if _, err := a.blacklist.Quarantine(a.lastProbe, screenshot); err != nil {
		return a.fail(domain.ErrModelInfer)
	}
	a.sessionFail++
	if a.sessionFail >= a.cfg.MaxRetries {
		return a.fail(domain.ErrDenied)
	}
	a.tracker.Reset()
	a.session.State = domain.StateAcquire
	return TickResult{State: a.session.State}, nil
}

func (a *Authenticator) succeed() (TickResult, error) {
	a.session.State = domain.StateSuccess
	if a.lastTier == domain.TierGolden {
		a.session.PendingAdapt = &domain.PendingAdapt{Embedding: a.lastProbe, Tier: a.lastTier}
	}
	a.cam.Stop()
	return TickResult{State: a.session.State, Outcome: "SUCCESS", User: a.lastUser, Dist: a.lastDist, Tier: a.lastTier}, nil
}

func (a *Authenticator) fail(err *domain.AppError) (TickResult, error) {
	a.session.State = domain.StateFailure
	a.cam.Stop()
	return TickResult{State: a.session.State, Outcome: err.Code, Message: err.Message}, err
}

// PendingAdapt returns the pending adaptive-write proposal from the last
// SUCCESS transition, if any.
func (a *Authenticator) PendingAdapt() *domain.PendingAdapt {
	if a.session == nil {
		return nil
	}
	return a.session.PendingAdapt
}

// LastFrame returns the most recently captured camera frame backing the
// active session's current face crop, for the RPC layer's frame
// passthrough on process_auth_frame.
func (a *Authenticator) LastFrame() inference.Frame {
	return a.lastCrop
}
