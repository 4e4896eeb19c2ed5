// Package antispoof implements the auto-calibrating liveness gate (C4): a
// print/replay classifier whose color-channel order and
// which output index means "live" are unknown ahead of time and are
// discovered by sampling frames during a warm-up window.
package antispoof

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

// combo is one of the six (color order, live index) candidates searched
// during calibration.
type combo struct {
	order domain.ColorOrder
	live  int
}

func combos() []combo {
	out := make([]combo, 0, 6)
	for _, ord := range []domain.ColorOrder{domain.ColorBGR, domain.ColorRGB} {
		for live := 0; live < 3; live++ {
			out = append(out, combo{order: ord, live: live})
		}
	}
	return out
}

// Config mirrors liveness.spoof_threshold plus the calibration window
// size.
type Config struct {
	Threshold     float64
	CalibSamples  int
	StatePath     string
	DeviceKey     string
}

// Detector is C4: it either accumulates calibration samples (IsCalibrating
// true) or scores probe frames against a previously discovered
// configuration.
type Detector struct {
	backend inference.Backend
	cfg     Config

	calib      *domain.SpoofCalibration
	samples    map[combo][]float64
	sampleN    int
	calibrating bool
}

// New loads any persisted calibration for cfg.DeviceKey; if none exists
// or it is stale, the detector starts in calibrating mode.
func New(backend inference.Backend, cfg Config) *Detector {
	d := &Detector{backend: backend, cfg: cfg, samples: map[combo][]float64{}}
	if saved, err := loadCalibration(cfg.StatePath); err == nil && !saved.Stale(cfg.DeviceKey) {
		d.calib = saved
	} else {
		d.calibrating = true
		for _, c := range combos() {
			d.samples[c] = nil
		}
	}
	return d
}

// IsCalibrating reports whether the detector still needs samples before
// it can Predict.
func (d *Detector) IsCalibrating() bool { return d.calibrating }

// CalibrationAge reports how long ago the current calibration was
// taken, or false if the detector has no calibration at all.
func (d *Detector) CalibrationAge(now time.Time) (time.Duration, bool) {
	if d.calib == nil {
		return 0, false
	}
	return now.Sub(d.calib.CalibratedAt), true
}

// Recalibrate discards the current calibration and re-enters
// calibrating mode, for periodic maintenance to force a refresh once a
// calibration has aged past its trusted window.
func (d *Detector) Recalibrate() {
	d.calib = nil
	d.calibrating = true
	d.sampleN = 0
	d.samples = map[combo][]float64{}
	for _, c := range combos() {
		d.samples[c] = nil
	}
}

// CalibrateTick scores frame under every candidate combo and accumulates
// the result; once CalibSamples ticks have been collected, it selects
// the combo with the highest median live-class score, persists it, and
// exits calibrating mode.
func (d *Detector) CalibrateTick(ctx context.Context, frame inference.Frame, box domain.Box) error {
	if !d.calibrating {
		return nil
	}
	for _, c := range combos() {
		probed := frame
		probed.Order = c.order
		probs, err := d.backend.AntispoofProbs(ctx, probed, box)
		if err != nil || c.live >= len(probs) {
			d.samples[c] = append(d.samples[c], 0)
			continue
		}
		d.samples[c] = append(d.samples[c], probs[c.live])
	}
	d.sampleN++

	if d.sampleN < d.cfg.CalibSamples {
		return nil
	}

	best := combos()[0]
	bestMedian := -1.0
	for _, c := range combos() {
		m := median(d.samples[c])
		if m > bestMedian {
			bestMedian, best = m, c
		}
	}

	d.calib = &domain.SpoofCalibration{
		ColorOrder:   best.order,
		LiveIndex:    best.live,
		SampleCount:  d.sampleN,
		Score:        bestMedian,
		CalibratedAt: time.Now(),
		DeviceKey:    d.cfg.DeviceKey,
	}
	d.calibrating = false
	return saveCalibration(d.cfg.StatePath, d.calib)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return -1
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Result is the outcome of a Predict call.
type Result struct {
	IsLive    bool
	LiveConf  float64
}

// Predict scores frame under the calibrated configuration and compares
// the live-class probability against Threshold. Callers must not call
// Predict while IsCalibrating is true. A backend inference failure —
// I/O error or a probability vector shaped wrong for the calibrated
// live index — is not treated as fatal: it scores as not-live so the
// caller's normal spoof-retry budget handles it rather than the
// session dying outright on a single bad frame.
func (d *Detector) Predict(ctx context.Context, frame inference.Frame, box domain.Box) (Result, error) {
	if d.calibrating || d.calib == nil {
		return Result{}, domain.ErrModelInfer.WithError(errCalibrating)
	}
	probed := frame
	probed.Order = d.calib.ColorOrder
	probs, err := d.backend.AntispoofProbs(ctx, probed, box)
	if err != nil || d.calib.LiveIndex >= len(probs) {
		return Result{IsLive: false, LiveConf: 0}, nil
	}
	conf := probs[d.calib.LiveIndex]
	return Result{IsLive: conf > d.cfg.Threshold, LiveConf: conf}, nil
}

var errCalibrating = errCalibratingType{}

type errCalibratingType struct{}

func (errCalibratingType) Error() string { return "spoof detector is still calibrating" }

func loadCalibration(path string) (*domain.SpoofCalibration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c domain.SpoofCalibration
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func saveCalibration(path string, c *domain.SpoofCalibration) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
