package camera

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	reads  int32
	closed atomic.Bool
	failAt int32
}

func (f *fakeDevice) Read() ([]byte, int, int, error) {
	n := atomic.AddInt32(&f.reads, 1)
	if f.failAt > 0 && n >= f.failAt {
		return nil, 0, 0, errors.New("device unplugged")
	}
	return []byte{byte(n), byte(n + 1), byte(n + 2)}, 2, 1, nil
}

func (f *fakeDevice) Close() error {
	f.closed.Store(true)
	return nil
}

func TestSourceReturnsNilDuringWarmup(t *testing.T) {
	dev := &fakeDevice{}
	src := New(Config{DeviceID: "0", Width: 2, Height: 1, FPS: 30, WarmupMs: 200}, func(string, int, int, int) (Device, error) {
		return dev, nil
	})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	_, ok := src.Read()
	assert.False(t, ok)
}

func TestSourceReturnsLatestFrameAfterWarmup(t *testing.T) {
	dev := &fakeDevice{}
	src := New(Config{DeviceID: "0", Width: 2, Height: 1, FPS: 30, WarmupMs: 0}, func(string, int, int, int) (Device, error) {
		return dev, nil
	})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	require.Eventually(t, func() bool {
		_, ok := src.Read()
		return ok
	}, time.Second, time.Millisecond)
}

func TestSourceStopReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	src := New(Config{DeviceID: "0", Width: 2, Height: 1, FPS: 30}, func(string, int, int, int) (Device, error) {
		return dev, nil
	})
	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Stop())
	assert.True(t, dev.closed.Load())
}

func TestSourceSurfacesFatalReadError(t *testing.T) {
	dev := &fakeDevice{failAt: 1}
	src := New(Config{DeviceID: "0", Width: 2, Height: 1, FPS: 30}, func(string, int, int, int) (Device, error) {
		return dev, nil
	})
	require.NoError(t, src.Start(context.Background()))

	require.Eventually(t, func() bool {
		return src.Err() != nil
	}, time.Second, time.Millisecond)

	_, ok := src.Read()
	assert.False(t, ok)
	assert.True(t, dev.closed.Load())

	// Stop must still be safe to call after the producer loop already
	// closed the device on the fatal path.
	assert.NoError(t, src.Stop())
}

func TestSourceOpenFailureReturnsNoCamera(t *testing.T) {
	src := New(Config{DeviceID: "9"}, func(string, int, int, int) (Device, error) {
		return nil, errors.New("no such device")
	})
	err := src.Start(context.Background())
	require.Error(t, err)
}
