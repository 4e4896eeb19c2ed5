package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/projectsentinel/sentineld/internal/antispoof"
	"github.com/projectsentinel/sentineld/internal/auth"
	"github.com/projectsentinel/sentineld/internal/blacklist"
	"github.com/projectsentinel/sentineld/internal/camera"
	"github.com/projectsentinel/sentineld/internal/config"
	"github.com/projectsentinel/sentineld/internal/embed"
	"github.com/projectsentinel/sentineld/internal/enroll"
	"github.com/projectsentinel/sentineld/internal/gallery"
	"github.com/projectsentinel/sentineld/internal/inference"
	"github.com/projectsentinel/sentineld/internal/liveness"
	"github.com/projectsentinel/sentineld/internal/maintenance"
	"github.com/projectsentinel/sentineld/internal/rpc"
	"github.com/projectsentinel/sentineld/internal/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	auditLogger, err := config.NewAuditLogger(cfg.Storage.LogDir, time.Now())
	if err != nil {
		return fmt.Errorf("failed to open audit logger: %w", err)
	}

	logger.Info("starting sentineld",
		slog.String("environment", cfg.Environment),
		slog.String("socket", cfg.RPC.SocketPath),
	)

	backend := &inference.Reference{}

	camSource := camera.New(camera.Config{
		DeviceID: cfg.Camera.DeviceID,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FPS,
		WarmupMs: 300,
	}, camera.OpenV4L2)

	detector := vision.NewDetector(backend, vision.DetectorConfig{
		ScoreMin:  cfg.Detector.ScoreMin,
		MinFacePx: cfg.Detector.MinFacePx,
		MaxFaces:  cfg.Detector.MaxFaces,
	})
	tracker := vision.NewTracker(vision.TrackerConfig{
		IoUReassoc:    cfg.Tracker.IoUReassoc,
		MaxLostFrames: cfg.Tracker.MaxLostFrames,
		ProcessNoise:  cfg.Tracker.ProcessNoise,
		MeasNoise:     cfg.Tracker.MeasNoise,
	})
	extractor := embed.NewExtractor(backend)

	spoofDetector := antispoof.New(backend, antispoof.Config{
		Threshold:    cfg.Liveness.SpoofThreshold,
		CalibSamples: 60,
		StatePath:    cfg.Storage.StateDir + "/spoof_calibration.json",
		DeviceKey:    cfg.Camera.DeviceID,
	})

	galleries := gallery.NewStore(gallery.Config{
		StateDir:    cfg.Storage.StateDir,
		MinEnrolled: cfg.Storage.MinEnrolled,
		MaxAdaptive: cfg.Adaptive.MaxAdaptive,
		MaxAge:      time.Duration(cfg.Storage.MaxAgeDays) * 24 * time.Hour,
	})

	blacklistMgr := blacklist.NewManager(blacklist.Config{
		QuarantineDir:  cfg.Storage.StateDir + "/quarantine",
		MatchThreshold: cfg.Blacklist.MatchThreshold,
	})

	adaptive := auth.NewAdaptiveManager(auth.AdaptiveConfig{
		LimitPerDay:            cfg.Adaptive.LimitPerDay,
		InitialRequirePassword: cfg.Adaptive.InitialRequirePassword,
		MaxAdaptive:            cfg.Adaptive.MaxAdaptive,
		MinDiversity:           cfg.Adaptive.MinDiversity,
		MaxDivergence:          cfg.Adaptive.MaxDivergence,
		TokenSigningKey:        adaptiveTokenKey(cfg),
	})

	blinkSync := liveness.NewBlinkSync(liveness.BlinkConfig{
		EAROpen:          cfg.Liveness.EAROpen,
		EARClosed:        cfg.Liveness.EARClosed,
		MinClosedFrames:  cfg.Liveness.MinClosedFrames,
		MaxBlinkDuration: time.Duration(cfg.Liveness.MaxBlinkDurationMs) * time.Millisecond,
	}, time.Duration(cfg.Liveness.BlinkSyncWindowMs)*time.Millisecond)
	graceFrames := cfg.Liveness.ChallengeGraceMs * cfg.Camera.FPS / 1000
	validator := liveness.NewValidator(liveness.ValidatorConfig{
		ChallengeTimeout: time.Duration(cfg.Liveness.ChallengeTimeout * float64(time.Second)),
		MotionFraction:   cfg.Liveness.HeadAngleThreshold,
		GraceFrames:      graceFrames,
	})

	authenticator := auth.NewAuthenticator(auth.Config{
		GoldenThreshold:      cfg.Security.GoldenThreshold,
		StandardThreshold:    cfg.Security.StandardThreshold,
		TwoFAThreshold:       cfg.Security.TwoFAThreshold,
		MaxRetries:           cfg.Security.MaxRetries,
		GlobalSessionTimeout: time.Duration(cfg.Security.GlobalSessionTimeout * float64(time.Second)),
	}, auth.Deps{
		Camera:          camSource,
		Detector:        detector,
		Tracker:         tracker,
		Blacklist:       blacklistMgr,
		Spoof:           spoofDetector,
		Extractor:       extractor,
		Galleries:       galleries,
		Blink:           blinkSync,
		Validator:       validator,
		Adaptive:        adaptive,
		MeshLeftEyeIdx:  inference.LeftEyeIdx,
		MeshRightEyeIdx: inference.RightEyeIdx,
	})

	enroller := enroll.NewSession(enroll.Config{
		SamplesPerPose:     cfg.Storage.SamplesPerPose,
		PoseMotionFraction: cfg.Liveness.HeadAngleThreshold,
	}, enroll.Deps{
		Camera:    camSource,
		Detector:  detector,
		Tracker:   tracker,
		Extractor: extractor,
		Galleries: galleries,
	})

	dispatcher := rpc.NewDispatcher(rpc.Deps{
		Config:    cfg,
		Backend:   backend,
		Authn:     authenticator,
		Adaptive:  adaptive,
		Enroller:  enroller,
		Galleries: galleries,
		Blacklist: blacklistMgr,
		Logger:    logger,
		Audit:     auditLogger,
	})
	dispatcher.StartWarmup()

	server := rpc.NewServer(cfg.RPC.SocketPath, cfg.RPC.SocketGroup, dispatcher, logger)
	if err := server.Listen(); err != nil {
		return fmt.Errorf("failed to bind socket: %w", err)
	}

	maint := maintenance.NewWorker(maintenance.Config{
		LogDir:            cfg.Storage.LogDir,
		LogRetentionDays:  cfg.Storage.LogRetentionDays,
		LogPruneCron:      cfg.Maintenance.LogPruneCron,
		RecalibrationCron: cfg.Maintenance.RecalibrationCron,
	}, spoofDetector, logger)
	if err := maint.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("socket", cfg.RPC.SocketPath))
		if err := server.Serve(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		maint.Stop()
		return fmt.Errorf("server error: %w", err)
	}

	maint.Stop()
	logger.Info("shutting down server...")
	if err := server.Close(); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	logger.Info("server stopped")

	return nil
}

// adaptiveTokenKey derives the HMAC signing key for adaptive-commit
// password-gate tokens from the process environment, falling back to a
// process-local random key so a daemon with no configured secret still
// runs (every token it issues is then only valid within that single
// process's uptime).
func adaptiveTokenKey(cfg *config.Config) []byte {
	if key := os.Getenv("SENTINEL_ADAPT_TOKEN_KEY"); key != "" {
		return []byte(key)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(cfg.Environment + "-fallback-key")
	}
	return buf
}
