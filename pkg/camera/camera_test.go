package camera

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils/image"
)

type fakeDriver struct {
	openErr    error
	focusErr   error
	captureErr error

	opens  int
	closes int
}

func (d *fakeDriver) Open(context.Context) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.opens++
	return nil
}

func (d *fakeDriver) Focus(context.Context) error { return d.focusErr }

func (d *fakeDriver) Capture(context.Context) ([]byte, error) {
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return []byte{0xff, 0xd8}, nil
}

func (d *fakeDriver) Close() error {
	d.closes++
	return nil
}

func TestAcquireIsLazyAndIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	h := NewHandle("fake", drv)
	ctx := context.Background()

	require.False(t, h.IsOpen())
	require.NoError(t, h.Acquire(ctx))
	require.NoError(t, h.Acquire(ctx))
	assert.Equal(t, 1, drv.opens)
	assert.True(t, h.IsOpen())

	frame, err := h.CaptureFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, frame)
}

func TestReleaseIsIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	h := NewHandle("fake", drv)

	require.NoError(t, h.Release())
	assert.Equal(t, 0, drv.closes)

	require.NoError(t, h.Acquire(context.Background()))
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	assert.Equal(t, 1, drv.closes)
	assert.False(t, h.IsOpen())
}

func TestErrorKinds(t *testing.T) {
	ctx := context.Background()

	h := NewHandle("busy", &fakeDriver{openErr: errors.New("device or resource busy")})
	err := h.Acquire(ctx)
	assert.True(t, errors.Is(err, types.ErrResourceUnavailable))
	assert.False(t, h.IsOpen())

	h = NewHandle("blurry", &fakeDriver{focusErr: errors.New("unable to focus")})
	require.NoError(t, h.Acquire(ctx))
	assert.True(t, errors.Is(h.Focus(ctx), types.ErrFocusFailed))

	h = NewHandle("broken", &fakeDriver{captureErr: errors.New("stream closed")})
	require.NoError(t, h.Acquire(ctx))
	_, err = h.CaptureFrame(ctx)
	assert.True(t, errors.Is(err, types.ErrResourceUnavailable))
}

func TestCaptureRequiresAcquire(t *testing.T) {
	h := NewHandle("fake", &fakeDriver{})
	_, err := h.CaptureFrame(context.Background())
	assert.True(t, errors.Is(err, types.ErrResourceUnavailable))
	assert.True(t, errors.Is(h.Focus(context.Background()), types.ErrResourceUnavailable))
}

func TestPatternCamera(t *testing.T) {
	h := Open(PatternSelector, Options{Width: 32, Height: 24})
	ctx := context.Background()
	require.NoError(t, h.Acquire(ctx))
	defer h.Release()
	require.NoError(t, h.Focus(ctx))

	frame, err := h.CaptureFrame(ctx)
	require.NoError(t, err)
	w, hgt, err := image.Size(frame)
	require.NoError(t, err)
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, hgt)
}

func TestDevicePath(t *testing.T) {
	assert.Equal(t, DefaultDevice, DevicePath(""))
	assert.Equal(t, "/dev/video2", DevicePath("2"))
	assert.Equal(t, "/dev/v4l/by-id/usb-cam", DevicePath("/dev/v4l/by-id/usb-cam"))
}

func TestControlName(t *testing.T) {
	assert.Equal(t, "jpeg_quality", ControlName(CtrlJPEGQuality))
	assert.Equal(t, "unknown", ControlName(0x1))
}
