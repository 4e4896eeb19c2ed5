// Package maintenance runs the daemon's periodic housekeeping: pruning
// old audit logs off disk and forcing the spoof detector to recalibrate
// once its calibration has aged past a trusted window. It is modeled
// on a ticker-driven worker that lists due work, runs it, and logs
// failures without ever stopping the loop, generalized from a plain
// ticker to cron expressions so operators can pick maintenance windows
// (nightly for log pruning, weekly for recalibration checks) instead of
// a fixed interval.
package maintenance

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/projectsentinel/sentineld/internal/antispoof"
)

// RecalibrationMaxAge is how long a spoof calibration is trusted before
// the worker forces a fresh one.
const RecalibrationMaxAge = 30 * 24 * time.Hour

// Config drives the two cron-scheduled jobs.
type Config struct {
	LogDir           string
	LogRetentionDays int
	LogPruneCron     string
	RecalibrationCron string
}

// Worker owns a cron scheduler running the log-retention and
// spoof-recalibration jobs against the daemon's shared components.
type Worker struct {
	cfg      Config
	detector *antispoof.Detector
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewWorker(cfg Config, detector *antispoof.Detector, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		detector: detector,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start registers both jobs and begins running the scheduler in the
// background. Call Stop to shut it down.
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.cfg.LogPruneCron, w.pruneLogs); err != nil {
		return err
	}
	if _, err := w.cron.AddFunc(w.cfg.RecalibrationCron, w.checkRecalibration); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("maintenance worker started",
		"log_prune_cron", w.cfg.LogPruneCron,
		"recalibration_cron", w.cfg.RecalibrationCron,
	)
	return nil
}

// Stop cancels the scheduler and waits for any in-flight job to finish.
func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("maintenance worker stopped")
}

// pruneLogs deletes files under LogDir whose modification time is
// older than LogRetentionDays. A missing log directory is not an
// error; there is simply nothing to prune yet.
func (w *Worker) pruneLogs() {
	cutoff := time.Now().Add(-time.Duration(w.cfg.LogRetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(w.cfg.LogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.logger.Error("log prune: read dir failed", "dir", w.cfg.LogDir, "error", err)
		return
	}

	pruned := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.cfg.LogDir, e.Name())
		if err := os.Remove(path); err != nil {
			w.logger.Error("log prune: remove failed", "path", path, "error", err)
			continue
		}
		pruned++
	}
	w.logger.Info("log prune complete", "pruned", pruned, "retention_days", w.cfg.LogRetentionDays)
}

// checkRecalibration forces the spoof detector back into calibrating
// mode once its current calibration has aged past RecalibrationMaxAge.
// The next authentication session pays the calibration cost instead of
// running indefinitely on a stale channel-order/live-index guess.
func (w *Worker) checkRecalibration() {
	age, ok := w.detector.CalibrationAge(time.Now())
	if !ok {
		return
	}
	if age < RecalibrationMaxAge {
		w.logger.Debug("spoof calibration still fresh", "age", age)
		return
	}
	w.detector.Recalibrate()
	w.logger.Info("spoof calibration expired, recalibration forced", "age", age)
}
