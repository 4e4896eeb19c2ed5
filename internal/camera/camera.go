// Package camera implements the daemon's single-slot threaded frame
// source (component C1): a dedicated goroutine continuously
// overwrites a latest-frame buffer so the authentication core never
// blocks on device I/O and never sees a queue of stale frames.
package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectsentinel/sentineld/internal/domain"
)

// Device is the low-level capture handle a Source drives. Production
// builds back it with a v4l2 or platform capture library; tests use a
// fake. Kept minimal so no single vendor capture library is baked into
// the domain logic above it.
type Device interface {
	// Read blocks until the next frame is available and returns its raw
	// pixel buffer plus dimensions, or an error on fatal device failure.
	Read() (pixels []byte, width, height int, err error)
	// Close releases the underlying device.
	Close() error
}

// OpenFunc opens device at the given id/resolution/fps. Swappable for
// tests.
type OpenFunc func(deviceID string, width, height, fps int) (Device, error)

// Config mirrors the camera.{device_id,width,height,fps} config keys.
type Config struct {
	DeviceID string
	Width    int
	Height   int
	FPS      int
	WarmupMs int
}

// Frame is a timestamped raw capture, consumed at most once per pipeline
// tick and never persisted.
type Frame struct {
	Pixels    []byte
	Width     int
	Height    int
	Order     domain.ColorOrder
	Timestamp time.Time
}

// Source is the threaded frame source: Start opens the device and
// launches the producer loop, Read always returns
// the most recently captured frame (or false during warmup or before
// Start), Stop releases the device.
type Source struct {
	cfg  Config
	open OpenFunc

	mu        sync.Mutex
	device    Device
	latest    *Frame
	lastTS    time.Time
	err       error
	startedAt time.Time

	stopCh       chan struct{}
	wg           sync.WaitGroup
	stopped      atomic.Bool
	deviceClosed atomic.Bool
}

// New constructs a Source. open is normally a real v4l2 opener; tests
// inject a fake.
func New(cfg Config, open OpenFunc) *Source {
	return &Source{cfg: cfg, open: open, stopCh: make(chan struct{})}
}

// Start opens the device and begins the producer loop. It blocks until
// the device is open (or fails to open), mirroring the prototype's
// synchronous first-frame check, but does not wait for the first frame
// so callers see None during warmup rather than blocking indefinitely.
func (s *Source) Start(ctx context.Context) error {
	dev, err := s.open(s.cfg.DeviceID, s.cfg.Width, s.cfg.Height, s.cfg.FPS)
	if err != nil {
		return domain.ErrNoCamera.WithError(fmt.Errorf("open device %q: %w", s.cfg.DeviceID, err))
	}

	s.mu.Lock()
	s.device = dev
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Source) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		px, w, h, err := s.device.Read()
		if err != nil {
			s.mu.Lock()
			s.err = err
			dev := s.device
			s.mu.Unlock()
			if s.deviceClosed.CompareAndSwap(false, true) {
				dev.Close()
			}
			return
		}

		frame := &Frame{
			Pixels:    px,
			Width:     w,
			Height:    h,
			Order:     domain.ColorBGR,
			Timestamp: monotonicAfter(s.lastTS),
		}

		s.mu.Lock()
		s.latest = frame
		s.lastTS = frame.Timestamp
		s.mu.Unlock()
	}
}

// monotonicAfter returns a timestamp strictly after prev, so C1's
// monotonic non-decreasing ordering guarantee holds even if the wall
// clock has poor resolution between reads.
func monotonicAfter(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// Read returns the most recent frame. It returns (nil, false) for the
// first WarmupMs after Start, or if a fatal read error has occurred.
func (s *Source) Read() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, false
	}
	if time.Since(s.startedAt) < time.Duration(s.cfg.WarmupMs)*time.Millisecond {
		return nil, false
	}
	if s.latest == nil {
		return nil, false
	}
	return s.latest, true
}

// Err returns the fatal device error, if any, that ended the producer
// loop.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop halts the producer loop and releases the device. Safe to call
// more than once. Closing the device first unblocks a producer goroutine
// parked in a blocking Read call, mirroring the prototype's daemon-thread
// stop-with-timeout: Stop does not wait longer than stopJoinTimeout for
// the loop to notice.
func (s *Source) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)

	s.mu.Lock()
	dev := s.device
	s.mu.Unlock()

	var closeErr error
	if dev != nil && s.deviceClosed.CompareAndSwap(false, true) {
		closeErr = dev.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
	}
	return closeErr
}

const stopJoinTimeout = time.Second
