package domain

import "time"

// ColorOrder is the channel order a camera's raw frames turned out to be
// in, discovered during spoof-detector auto-calibration.
type ColorOrder string

const (
	ColorRGB ColorOrder = "RGB"
	ColorBGR ColorOrder = "BGR"
)

// SpoofCalibration is the persisted result of the 6-way auto-calibration
// search: channel order crossed with a live-index candidate in {0,1,2}.
// Re-run whenever the camera device key changes (see Stale).
type SpoofCalibration struct {
	ColorOrder  ColorOrder
	LiveIndex   int
	SampleCount int
	Score       float64
	CalibratedAt time.Time
	DeviceKey   string
}

// Stale reports whether this calibration was taken under a different
// camera device than deviceKey, and must be redone before use.
func (c *SpoofCalibration) Stale(deviceKey string) bool {
	return c == nil || c.DeviceKey != deviceKey
}
