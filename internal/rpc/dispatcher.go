package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/projectsentinel/sentineld/internal/auth"
	"github.com/projectsentinel/sentineld/internal/blacklist"
	"github.com/projectsentinel/sentineld/internal/config"
	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/enroll"
	"github.com/projectsentinel/sentineld/internal/gallery"
	"github.com/projectsentinel/sentineld/internal/inference"
)

// sessionKind is which of the two mutually-exclusive session types
// currently owns the daemon's single camera handle.
type sessionKind string

const (
	sessionNone   sessionKind = ""
	sessionAuth   sessionKind = "auth"
	sessionEnroll sessionKind = "enroll"
)

// pamTimeout and pamPollInterval bound authenticate_pam's blocking,
// camera-owning call so a greeter never hangs indefinitely on a stuck
// session.
const (
	pamTimeout      = 15 * time.Second
	pamPollInterval = 50 * time.Millisecond
)

// Deps bundles the component instances the dispatcher composes into RPC
// method handlers.
type Deps struct {
	Config    *config.Config
	Backend   inference.Backend
	Authn     *auth.Authenticator
	Adaptive  *auth.AdaptiveManager
	Enroller  *enroll.Session
	Galleries *gallery.Store
	Blacklist *blacklist.Manager
	Logger    *slog.Logger
	Audit     *slog.Logger
}

// Dispatcher is C12: it serializes concurrent RPC calls against a single
// Authenticator/enrollment session, holds the atomically-swapped config
// snapshot, and gates model warmup behind an idempotent initialize call.
type Dispatcher struct {
	cfg atomic.Pointer[config.Config]

	backend   inference.Backend
	authn     *auth.Authenticator
	adaptive  *auth.AdaptiveManager
	enroller  *enroll.Session
	galleries *gallery.Store
	blacklist *blacklist.Manager
	logger    *slog.Logger
	audit     *slog.Logger
	validate  *validator.Validate

	mu     sync.Mutex
	active sessionKind

	warmupOnce sync.Once
	warmupCh   chan struct{}
	warmupErr  error
}

func NewDispatcher(d Deps) *Dispatcher {
	disp := &Dispatcher{
		backend:   d.Backend,
		authn:     d.Authn,
		adaptive:  d.Adaptive,
		enroller:  d.Enroller,
		galleries: d.Galleries,
		blacklist: d.Blacklist,
		logger:    d.Logger,
		audit:     d.Audit,
		validate:  validator.New(),
		warmupCh:  make(chan struct{}),
	}
	disp.cfg.Store(d.Config)
	return disp
}

// StartWarmup kicks off model warmup and blacklist loading on a
// background goroutine, so the first initialize call does not pay for
// it inline. Safe to call more than once; only the first call does any
// work.
func (d *Dispatcher) StartWarmup() {
	d.ensureWarmup()
}

func (d *Dispatcher) ensureWarmup() {
	d.warmupOnce.Do(func() {
		go func() {
			defer close(d.warmupCh)
			if err := d.backend.Warmup(context.Background()); err != nil {
				d.warmupErr = err
				d.logger.Error("model warmup failed", "error", err)
				return
			}
			if err := d.blacklist.Load(); err != nil {
				d.warmupErr = err
				d.logger.Error("blacklist load failed", "error", err)
				return
			}
			d.logger.Info("model warmup complete")
		}()
	})
}

// HandleLine decodes one newline-delimited JSON-RPC request, dispatches
// it, and returns the response to be encoded back to the client.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte, now time.Time) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{JSONRPC: jsonrpcVersion, Error: &Error{Code: codeParseError, Message: "parse error"}}
	}

	result, err := d.dispatch(ctx, req.Method, req.Params, now)
	resp := Response{JSONRPC: jsonrpcVersion, ID: req.ID}
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			resp.Error = rpcErr
			return resp
		}
		code := "INTERNAL"
		if appErr, ok := err.(*domain.AppError); ok {
			code = appErr.Code
		}
		resp.Result = map[string]any{"success": false, "error": code}
		return resp
	}
	resp.Result = result
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, method string, raw json.RawMessage, now time.Time) (map[string]any, error) {
	switch method {
	case "initialize":
		return d.handleInitialize(ctx)
	case "get_config":
		return d.handleGetConfig()
	case "update_config":
		var p UpdateConfigParams
		if err := d.decodeAndValidate(raw, &p); err != nil {
			return nil, err
		}
		return d.handleUpdateConfig(p)
	case "get_enrolled_users":
		return d.handleGetEnrolledUsers(now)
	case "start_authentication":
		var p StartAuthParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return d.handleStartAuthentication(ctx, p, now)
	case "process_auth_frame":
		return d.handleProcessAuthFrame(ctx, now)
	case "stop_authentication":
		return d.handleStopAuthentication()
	case "start_enrollment":
		var p StartEnrollParams
		if err := d.decodeAndValidate(raw, &p); err != nil {
			return nil, err
		}
		return d.handleStartEnrollment(ctx, p)
	case "process_enroll_frame":
		return d.handleProcessEnrollFrame(ctx)
	case "capture_enroll_pose":
		return d.handleCaptureEnrollPose(ctx, now)
	case "stop_enrollment":
		return d.handleStopEnrollment()
	case "get_intrusions":
		return d.handleGetIntrusions()
	case "confirm_intrusion":
		var p IntrusionParams
		if err := d.decodeAndValidate(raw, &p); err != nil {
			return nil, err
		}
		return d.handleConfirmIntrusion(p)
	case "delete_intrusion":
		var p IntrusionParams
		if err := d.decodeAndValidate(raw, &p); err != nil {
			return nil, err
		}
		return d.handleDeleteIntrusion(p)
	case "authenticate_pam":
		var p AuthenticatePAMParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return d.handleAuthenticatePAM(ctx, p, now)
	default:
		return nil, &Error{Code: codeMethodNotFound, Message: "method not found: " + method}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func (d *Dispatcher) decodeAndValidate(raw json.RawMessage, v any) error {
	if err := decodeParams(raw, v); err != nil {
		return err
	}
	if err := d.validate.Struct(v); err != nil {
		return &Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

// acquire claims the single-session slot for kind, failing fast with
// BUSY if a session of either kind is already active.
func (d *Dispatcher) acquire(kind sessionKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != sessionNone {
		return domain.ErrBusy
	}
	d.active = kind
	return nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.active = sessionNone
	d.mu.Unlock()
}

// --- initialize / config -------------------------------------------------

func (d *Dispatcher) handleInitialize(ctx context.Context) (map[string]any, error) {
	d.ensureWarmup()
	select {
	case <-d.warmupCh:
	case <-ctx.Done():
		return nil, domain.ErrCancelled
	}
	if d.warmupErr != nil {
		return nil, domain.ErrInternal.WithError(d.warmupErr)
	}
	return map[string]any{"success": true}, nil
}

func (d *Dispatcher) handleGetConfig() (map[string]any, error) {
	cfg := d.cfg.Load()
	return map[string]any{"success": true, "config": cfg.Published()}, nil
}

func (d *Dispatcher) handleUpdateConfig(p UpdateConfigParams) (map[string]any, error) {
	current := d.cfg.Load()
	next := *current
	applyConfigPatch(&next, p.Config)
	d.cfg.Store(&next)
	return map[string]any{"success": true, "config": next.Published()}, nil
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func toInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// applyConfigPatch mutates cfg in place from a dotted-key patch,
// ignoring keys it does not recognize or whose value has the wrong
// type. Recognized keys still apply even when others in the same
// patch are malformed.
func applyConfigPatch(cfg *config.Config, patch map[string]any) {
	for k, v := range patch {
		switch k {
		case "camera.device_id":
			if s, ok := v.(string); ok {
				cfg.Camera.DeviceID = s
			}
		case "camera.width":
			if n, ok := toInt(v); ok {
				cfg.Camera.Width = n
			}
		case "camera.height":
			if n, ok := toInt(v); ok {
				cfg.Camera.Height = n
			}
		case "camera.fps":
			if n, ok := toInt(v); ok {
				cfg.Camera.FPS = n
			}
		case "security.golden_threshold":
			if f, ok := toFloat(v); ok {
				cfg.Security.GoldenThreshold = f
			}
		case "security.standard_threshold":
			if f, ok := toFloat(v); ok {
				cfg.Security.StandardThreshold = f
			}
		case "security.twofa_threshold":
			if f, ok := toFloat(v); ok {
				cfg.Security.TwoFAThreshold = f
			}
		case "security.max_retries":
			if n, ok := toInt(v); ok {
				cfg.Security.MaxRetries = n
			}
		case "security.global_session_timeout":
			if f, ok := toFloat(v); ok {
				cfg.Security.GlobalSessionTimeout = f
			}
		case "liveness.ear_open":
			if f, ok := toFloat(v); ok {
				cfg.Liveness.EAROpen = f
			}
		case "liveness.ear_closed":
			if f, ok := toFloat(v); ok {
				cfg.Liveness.EARClosed = f
			}
		case "liveness.challenge_timeout":
			if f, ok := toFloat(v); ok {
				cfg.Liveness.ChallengeTimeout = f
			}
		case "liveness.spoof_threshold":
			if f, ok := toFloat(v); ok {
				cfg.Liveness.SpoofThreshold = f
			}
		case "liveness.head_angle_threshold":
			if f, ok := toFloat(v); ok {
				cfg.Liveness.HeadAngleThreshold = f
			}
		case "liveness.blink_sync_window_ms":
			if n, ok := toInt(v); ok {
				cfg.Liveness.BlinkSyncWindowMs = n
			}
		case "adaptive.adaptation_limit_per_day":
			if n, ok := toInt(v); ok {
				cfg.Adaptive.LimitPerDay = n
			}
		case "adaptive.initial_adaptations_require_password":
			if n, ok := toInt(v); ok {
				cfg.Adaptive.InitialRequirePassword = n
			}
		case "adaptive.max_adaptive":
			if n, ok := toInt(v); ok {
				cfg.Adaptive.MaxAdaptive = n
			}
		case "adaptive.min_adaptive_diversity":
			if f, ok := toFloat(v); ok {
				cfg.Adaptive.MinDiversity = f
			}
		case "adaptive.max_adaptive_distance":
			if f, ok := toFloat(v); ok {
				cfg.Adaptive.MaxDivergence = f
			}
		case "storage.max_age_days":
			if n, ok := toInt(v); ok {
				cfg.Storage.MaxAgeDays = n
			}
		case "storage.log_retention_days":
			if n, ok := toInt(v); ok {
				cfg.Storage.LogRetentionDays = n
			}
		}
	}
}

// --- enrollment lookup -----------------------------------------------------

func (d *Dispatcher) handleGetEnrolledUsers(now time.Time) (map[string]any, error) {
	users, err := d.galleries.EnrolledUsers(now)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "users": users}, nil
}

// --- authentication ---------------------------------------------------------

func isAuthTerminal(s domain.State) bool {
	switch s {
	case domain.StateSuccess, domain.StateRequire2FA, domain.StateFailure:
		return true
	}
	return false
}

func (d *Dispatcher) handleStartAuthentication(ctx context.Context, p StartAuthParams, now time.Time) (map[string]any, error) {
	if err := d.acquire(sessionAuth); err != nil {
		return nil, err
	}

	var users []string
	if p.User == "" {
		var err error
		users, err = d.galleries.ListUsers()
		if err != nil {
			d.release()
			return nil, err
		}
	}

	if err := d.authn.Start(ctx, p.User, users, now); err != nil {
		d.release()
		return nil, err
	}
	d.audit.Info("authentication started", "user", p.User, "request_id", uuid.NewString())
	return map[string]any{"success": true}, nil
}

func (d *Dispatcher) handleProcessAuthFrame(ctx context.Context, now time.Time) (map[string]any, error) {
	res, tickErr := d.authn.Tick(ctx, now)
	if tickErr == nil && res.State == domain.StateSuccess {
		d.commitAdaptive(res, now)
	}
	if isAuthTerminal(res.State) {
		d.release()
	}
	d.auditOutcome(res)

	out := map[string]any{"success": true, "state": string(res.State)}
	if res.Message != "" {
		out["message"] = res.Message
	}
	if res.Box != nil {
		out["face_box"] = boxToMap(*res.Box)
	}
	if frame, err := encodeFrameJPEG(d.authn.LastFrame()); err == nil {
		out["frame"] = frame
	}
	info := map[string]any{}
	if res.User != "" {
		info["user"] = res.User
	}
	if res.Dist != 0 {
		info["dist"] = res.Dist
	}
	if res.Tier != "" {
		info["tier"] = string(res.Tier)
	}
	if len(info) > 0 {
		out["info"] = info
	}
	if tickErr != nil {
		if appErr, ok := tickErr.(*domain.AppError); ok {
			out["error"] = appErr.Code
		}
	}
	return out, nil
}

func (d *Dispatcher) handleStopAuthentication() (map[string]any, error) {
	d.authn.Stop()
	d.release()
	return map[string]any{"success": true}, nil
}

// commitAdaptive proposes the pending GOLDEN-tier embedding from a
// SUCCESS transition to the adaptive manager and, if admitted, appends
// and persists it. Failure to commit degrades silently to the audit
// log: it never turns an otherwise-successful authentication into an
// error.
func (d *Dispatcher) commitAdaptive(res auth.TickResult, now time.Time) {
	pending := d.authn.PendingAdapt()
	if pending == nil || res.User == "" {
		return
	}
	g, ok, err := d.galleries.Load(res.User)
	if err != nil || !ok {
		return
	}
	decision := d.adaptive.Evaluate(res.User, pending.Embedding, g, now, "")
	if !decision.Commit {
		d.audit.Info("adaptive commit skipped", "user", res.User, "reason", decision.Reason)
		return
	}
	d.galleries.AppendAdaptive(&g, pending.Embedding)
	if err := d.galleries.Save(g); err != nil {
		d.logger.Error("adaptive gallery save failed", "user", res.User, "error", err)
		return
	}
	d.audit.Info("adaptive commit", "user", res.User)
}

func (d *Dispatcher) auditOutcome(res auth.TickResult) {
	if res.Outcome == "" {
		return
	}
	d.audit.Info(res.Outcome,
		"user", res.User,
		"dist", res.Dist,
		"tier", string(res.Tier),
		"state", string(res.State),
		"request_id", uuid.NewString(),
	)
}

// --- enrollment ---------------------------------------------------------

func boxToMap(b domain.Box) map[string]any {
	return map[string]any{"x": b.X, "y": b.Y, "w": b.W, "h": b.H}
}

func enrollResultToMap(res enroll.Result) map[string]any {
	out := map[string]any{
		"success":          true,
		"completed":        res.Completed,
		"current_pose":     res.CurrentPose,
		"total_poses":      res.TotalPoses,
		"pose_name":        res.PoseInfo.Name,
		"pose_instruction": res.PoseInfo.Instruction,
	}
	if res.Status != "" {
		out["status"] = res.Status
	}
	if res.Box != nil {
		out["face_box"] = boxToMap(*res.Box)
	}
	if res.Message != "" {
		out["message"] = res.Message
	}
	return out
}

func (d *Dispatcher) handleStartEnrollment(ctx context.Context, p StartEnrollParams) (map[string]any, error) {
	if err := d.acquire(sessionEnroll); err != nil {
		return nil, err
	}
	res, err := d.enroller.Start(ctx, p.UserName, p.WearsGlasses)
	if err != nil {
		d.release()
		return nil, err
	}
	d.audit.Info("enrollment started", "user", p.UserName, "request_id", uuid.NewString())
	return enrollResultToMap(res), nil
}

func (d *Dispatcher) handleProcessEnrollFrame(ctx context.Context) (map[string]any, error) {
	res, err := d.enroller.Process(ctx)
	if err != nil {
		d.release()
		return nil, err
	}
	out := enrollResultToMap(res)
	if frame, ferr := encodeFrameJPEG(d.enroller.LastFrame()); ferr == nil {
		out["frame"] = frame
	}
	return out, nil
}

func (d *Dispatcher) handleCaptureEnrollPose(ctx context.Context, now time.Time) (map[string]any, error) {
	res, err := d.enroller.Capture(ctx, now)
	if err != nil {
		return nil, err
	}
	if res.Completed {
		d.audit.Info("enrollment completed", "request_id", uuid.NewString())
		d.release()
	}
	return enrollResultToMap(res), nil
}

func (d *Dispatcher) handleStopEnrollment() (map[string]any, error) {
	d.enroller.Stop()
	d.release()
	return map[string]any{"success": true}, nil
}

// --- blacklist review workflow ----------------------------------------------

func filenameToID(filename string) (uuid.UUID, error) {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return uuid.Parse(base)
}

func (d *Dispatcher) handleGetIntrusions() (map[string]any, error) {
	entries := d.blacklist.List()
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, d.blacklist.EntryPath(e.ID))
	}
	return map[string]any{"success": true, "files": files}, nil
}

func (d *Dispatcher) handleConfirmIntrusion(p IntrusionParams) (map[string]any, error) {
	id, err := filenameToID(p.Filename)
	if err != nil {
		return nil, domain.ErrInternal.WithError(err)
	}
	if err := d.blacklist.ConfirmIntrusion(id); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (d *Dispatcher) handleDeleteIntrusion(p IntrusionParams) (map[string]any, error) {
	id, err := filenameToID(p.Filename)
	if err != nil {
		return nil, domain.ErrInternal.WithError(err)
	}
	if err := d.blacklist.DeleteIntrusion(id); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// --- authenticate_pam --------------------------------------------------------

// pamOutcome maps a session-ending AppError to the one-word result
// authenticate_pam's blocking caller (a greeter or lockscreen) expects.
func pamOutcome(err error) string {
	appErr, ok := err.(*domain.AppError)
	if !ok {
		return "ERROR"
	}
	switch appErr.Code {
	case domain.ErrDenied.Code:
		return "LOCKOUT"
	case domain.ErrBlockedIntruder.Code:
		return "BLOCKED_INTRUDER"
	case domain.ErrTimeout.Code:
		return "TIMEOUT"
	case domain.ErrModelInfer.Code, domain.ErrInternal.Code, domain.ErrIOWrite.Code, domain.ErrGalleryCorrupt.Code:
		return "ERROR"
	default:
		return "FAILURE"
	}
}

// handleAuthenticatePAM runs a full authentication session to
// completion against a fresh camera handle within a bounded timeout,
// for the blocking greeter/lockscreen integration.
func (d *Dispatcher) handleAuthenticatePAM(ctx context.Context, p AuthenticatePAMParams, now time.Time) (map[string]any, error) {
	if err := d.acquire(sessionAuth); err != nil {
		return map[string]any{"success": true, "result": "BUSY"}, nil
	}
	defer d.release()

	var users []string
	if p.User == "" {
		var err error
		users, err = d.galleries.ListUsers()
		if err != nil {
			return map[string]any{"success": true, "result": "ERROR"}, nil
		}
	}

	if err := d.authn.Start(ctx, p.User, users, now); err != nil {
		return map[string]any{"success": true, "result": pamOutcome(err)}, nil
	}
	defer d.authn.Stop()

	deadline := now.Add(pamTimeout)
	for {
		tick := time.Now()
		if tick.After(deadline) {
			return map[string]any{"success": true, "result": "TIMEOUT"}, nil
		}
		if err := ctx.Err(); err != nil {
			return map[string]any{"success": true, "result": "CANCELLED"}, nil
		}

		res, err := d.authn.Tick(ctx, tick)
		d.auditOutcome(res)
		switch res.State {
		case domain.StateSuccess:
			d.commitAdaptive(res, tick)
			return map[string]any{"success": true, "result": "SUCCESS", "user": res.User}, nil
		case domain.StateRequire2FA:
			return map[string]any{"success": true, "result": "REQUIRE_2FA", "user": res.User}, nil
		case domain.StateFailure:
			return map[string]any{"success": true, "result": pamOutcome(err)}, nil
		}
		time.Sleep(pamPollInterval)
	}
}
