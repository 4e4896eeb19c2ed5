// Package config loads the daemon's configuration snapshot from the
// process environment and exposes the flat, published subset of it
// that get_config/update_config hand back over the control channel.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// CameraConfig mirrors the camera.* published config group.
type CameraConfig struct {
	DeviceID string `envconfig:"CAMERA_DEVICE_ID" default:"0"`
	Width    int    `envconfig:"CAMERA_WIDTH" default:"640"`
	Height   int    `envconfig:"CAMERA_HEIGHT" default:"480"`
	FPS      int    `envconfig:"CAMERA_FPS" default:"30"`
	WarmupMs int    `envconfig:"CAMERA_WARMUP_MS" default:"300"`
}

// DetectorConfig tunes C2; not part of the published subset but needed
// to construct the pipeline.
type DetectorConfig struct {
	ScoreMin  float64 `envconfig:"DETECTOR_SCORE_MIN" default:"0.80"`
	MinFacePx int     `envconfig:"DETECTOR_MIN_FACE_PX" default:"80"`
	MaxFaces  int     `envconfig:"DETECTOR_MAX_FACES" default:"3"`
}

// TrackerConfig tunes C3.
type TrackerConfig struct {
	IoUReassoc    float64 `envconfig:"TRACKER_IOU_REASSOC" default:"0.30"`
	MaxLostFrames int     `envconfig:"TRACKER_MAX_LOST_FRAMES" default:"8"`
	ProcessNoise  float64 `envconfig:"TRACKER_PROCESS_NOISE" default:"0.03"`
	MeasNoise     float64 `envconfig:"TRACKER_MEAS_NOISE" default:"0.10"`
}

// SecurityConfig mirrors the security.* published config group.
type SecurityConfig struct {
	GoldenThreshold      float64 `envconfig:"SECURITY_GOLDEN_THRESHOLD" default:"0.25"`
	StandardThreshold    float64 `envconfig:"SECURITY_STANDARD_THRESHOLD" default:"0.42"`
	TwoFAThreshold       float64 `envconfig:"SECURITY_TWOFA_THRESHOLD" default:"0.50"`
	MaxRetries           int     `envconfig:"SECURITY_MAX_RETRIES" default:"3"`
	GlobalSessionTimeout float64 `envconfig:"SECURITY_GLOBAL_SESSION_TIMEOUT" default:"25.0"`
}

// LivenessConfig mirrors the liveness.* published config group.
type LivenessConfig struct {
	EAROpen            float64 `envconfig:"LIVENESS_EAR_OPEN" default:"0.24"`
	EARClosed          float64 `envconfig:"LIVENESS_EAR_CLOSED" default:"0.19"`
	MinClosedFrames    int     `envconfig:"LIVENESS_MIN_CLOSED_FRAMES" default:"2"`
	ChallengeTimeout   float64 `envconfig:"LIVENESS_CHALLENGE_TIMEOUT" default:"20.0"`
	ChallengeGraceMs   int     `envconfig:"LIVENESS_CHALLENGE_GRACE_MS" default:"800"`
	SpoofThreshold     float64 `envconfig:"LIVENESS_SPOOF_THRESHOLD" default:"0.92"`
	HeadAngleThreshold float64 `envconfig:"LIVENESS_HEAD_ANGLE_THRESHOLD" default:"0.15"`
	BlinkSyncWindowMs  int     `envconfig:"LIVENESS_BLINK_SYNC_WINDOW_MS" default:"400"`
	MaxBlinkDurationMs int     `envconfig:"LIVENESS_MAX_BLINK_DURATION_MS" default:"400"`
}

// AdaptiveConfig mirrors the adaptive.* published config group.
type AdaptiveConfig struct {
	LimitPerDay            int     `envconfig:"ADAPTIVE_LIMIT_PER_DAY" default:"1"`
	InitialRequirePassword int     `envconfig:"ADAPTIVE_INITIAL_REQUIRE_PASSWORD" default:"3"`
	MaxAdaptive            int     `envconfig:"ADAPTIVE_MAX_ADAPTIVE" default:"15"`
	MinDiversity           float64 `envconfig:"ADAPTIVE_MIN_DIVERSITY" default:"0.05"`
	MaxDivergence          float64 `envconfig:"ADAPTIVE_MAX_DIVERGENCE" default:"0.35"`
}

// StorageConfig mirrors the storage.* published config group plus the
// on-disk layout roots.
type StorageConfig struct {
	StateDir         string `envconfig:"STORAGE_STATE_DIR" default:"/var/lib/sentineld"`
	LogDir           string `envconfig:"STORAGE_LOG_DIR" default:"/var/log/sentineld"`
	MaxAgeDays       int    `envconfig:"STORAGE_MAX_AGE_DAYS" default:"45"`
	LogRetentionDays int    `envconfig:"STORAGE_LOG_RETENTION_DAYS" default:"30"`
	MinEnrolled      int    `envconfig:"STORAGE_MIN_ENROLLED" default:"20"`
	SamplesPerPose   int    `envconfig:"STORAGE_SAMPLES_PER_POSE" default:"4"`
}

// BlacklistConfig tunes C7.
type BlacklistConfig struct {
	MatchThreshold float64 `envconfig:"BLACKLIST_MATCH_THRESHOLD" default:"0.55"`
}

// RPCConfig controls the control-channel socket.
type RPCConfig struct {
	SocketPath  string `envconfig:"RPC_SOCKET_PATH" default:"/run/sentineld/sentineld.sock"`
	SocketGroup string `envconfig:"RPC_SOCKET_GROUP" default:""`
}

// MaintenanceConfig drives the cron-scheduled background job.
type MaintenanceConfig struct {
	LogPruneCron      string `envconfig:"MAINTENANCE_LOG_PRUNE_CRON" default:"0 3 * * *"`
	RecalibrationCron string `envconfig:"MAINTENANCE_RECALIBRATION_CRON" default:"0 4 * * 0"`
}

// Config is the daemon's full, immutable configuration snapshot.
// Published() returns the subset exposed through get_config.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	Camera      CameraConfig
	Detector    DetectorConfig
	Tracker     TrackerConfig
	Security    SecurityConfig
	Liveness    LivenessConfig
	Adaptive    AdaptiveConfig
	Storage     StorageConfig
	Blacklist   BlacklistConfig
	RPC         RPCConfig
	Maintenance MaintenanceConfig
}

// Load populates a Config from SENTINEL_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SENTINEL", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// envconfig prefixes nested fields with the group's field name too
	// (SENTINEL_CAMERA_CAMERA_DEVICE_ID), so each group is processed
	// again on its own to read the SENTINEL_CAMERA_DEVICE_ID form.
	groups := []any{&cfg.Camera, &cfg.Detector, &cfg.Tracker, &cfg.Security, &cfg.Liveness,
		&cfg.Adaptive, &cfg.Storage, &cfg.Blacklist, &cfg.RPC, &cfg.Maintenance}
	for _, g := range groups {
		if err := envconfig.Process("SENTINEL", g); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }
func (c *Config) IsProduction() bool  { return c.Environment == "production" }

// Published flattens the get_config-visible groups into dotted
// "camera.device_id"-style keys.
func (c *Config) Published() map[string]any {
	return map[string]any{
		"camera.device_id": c.Camera.DeviceID,
		"camera.width":     c.Camera.Width,
		"camera.height":    c.Camera.Height,
		"camera.fps":       c.Camera.FPS,

		"security.golden_threshold":       c.Security.GoldenThreshold,
		"security.standard_threshold":     c.Security.StandardThreshold,
		"security.twofa_threshold":        c.Security.TwoFAThreshold,
		"security.max_retries":            c.Security.MaxRetries,
		"security.global_session_timeout": c.Security.GlobalSessionTimeout,

		"liveness.ear_open":             c.Liveness.EAROpen,
		"liveness.ear_closed":           c.Liveness.EARClosed,
		"liveness.challenge_timeout":    c.Liveness.ChallengeTimeout,
		"liveness.spoof_threshold":      c.Liveness.SpoofThreshold,
		"liveness.head_angle_threshold": c.Liveness.HeadAngleThreshold,
		"liveness.blink_sync_window_ms": c.Liveness.BlinkSyncWindowMs,

		"adaptive.adaptation_limit_per_day":             c.Adaptive.LimitPerDay,
		"adaptive.initial_adaptations_require_password": c.Adaptive.InitialRequirePassword,
		"adaptive.max_adaptive":                         c.Adaptive.MaxAdaptive,
		"adaptive.min_adaptive_diversity":               c.Adaptive.MinDiversity,
		"adaptive.max_adaptive_distance":                c.Adaptive.MaxDivergence,

		"storage.max_age_days":       c.Storage.MaxAgeDays,
		"storage.log_retention_days": c.Storage.LogRetentionDays,
	}
}
