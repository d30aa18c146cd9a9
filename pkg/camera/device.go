package camera

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"chronosnap-pi/pkg/types"
)

var (
	StartedErr    = errors.New("already started")
	NotStartedErr = errors.New("camera not started")
)

// V4L2 streams JPEG frames from a video4linux device.
type V4L2 struct {
	devName string
	width   int
	height  int

	focusTimeout time.Duration

	lock   sync.Mutex
	cancel context.CancelFunc
	camera *device.Device
	frames <-chan []byte

	settings types.CameraSettings
}

func NewV4L2(devName string, opts Options) *V4L2 {
	opts = opts.withDefaults()
	settings := make(types.CameraSettings)
	maps.Copy(settings, opts.Controls)

	return &V4L2{
		devName:      devName,
		width:        opts.Width,
		height:       opts.Height,
		focusTimeout: opts.FocusTimeout,
		settings:     settings,
	}
}

// Open starts streaming. The stream outlives ctx; it is stopped by Close.
func (c *V4L2) Open(_ context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.camera != nil {
		return StartedErr
	}
	logger.Infof("start camera %s in %d*%d", c.devName, c.width, c.height)
	camera, err := device.Open(
		c.devName,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(c.width),
			Height:      uint32(c.height),
		}),
	)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	if err = camera.Start(streamCtx); err != nil {
		cancel()
		_ = camera.Close()
		return err
	}
	c.camera = camera
	c.cancel = cancel
	c.frames = camera.GetOutput()
	c.applySettings()

	return nil
}

func (c *V4L2) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cancel != nil {
		// let the stream goroutine observe ctx.Done and stop the device before Close
		c.cancel()
		time.Sleep(100 * time.Millisecond)
		c.cancel = nil
	}
	c.frames = nil
	if c.camera != nil {
		err := c.camera.Close()
		c.camera = nil
		return err
	}
	return nil
}

// Capture returns the next frame produced after the call. Frames buffered
// while the camera was idle are dropped.
func (c *V4L2) Capture(ctx context.Context) ([]byte, error) {
	c.lock.Lock()
	frames := c.frames
	c.lock.Unlock()
	if frames == nil {
		return nil, NotStartedErr
	}

	for drained := false; !drained; {
		select {
		case _, ok := <-frames:
			if !ok {
				return nil, errors.New("capture stream closed")
			}
		default:
			drained = true
		}
	}

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, errors.New("capture stream closed")
		}
		if len(frame) == 0 {
			return nil, errors.New("empty frame")
		}
		return append([]byte(nil), frame...), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for frame")
	}
}

// Focus runs a single auto focus pass and waits for the lens to settle.
func (c *V4L2) Focus(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.camera == nil {
		return NotStartedErr
	}

	// continuous AF would fight the single pass
	if err := c.camera.SetControlValue(CtrlFocusAuto, 0); err != nil {
		logger.Debugf("disable continuous focus: %s", err)
	}
	if err := c.camera.SetControlValue(CtrlAutoFocusStart, 1); err != nil {
		return errors.Wrap(err, "start auto focus")
	}

	ctx, cancel := context.WithTimeout(ctx, c.focusTimeout)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.camera.SetControlValue(CtrlAutoFocusStop, 1)
			return errors.New("auto focus did not converge")
		case <-tick.C:
		}
		ctrl, err := v4l2.GetControl(c.camera.Fd(), CtrlAutoFocusStatus)
		if err != nil {
			return errors.Wrap(err, "read auto focus status")
		}
		switch {
		case ctrl.Value&AutoFocusStatusFailed != 0:
			return errors.New("unable to focus")
		case ctrl.Value&AutoFocusStatusReached != 0:
			return nil
		}
	}
}

func (c *V4L2) applySettings() {
	if c.camera == nil {
		return
	}
	for k, v := range c.settings {
		if err := c.camera.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}

// KnownSettings reads the current value of the controls in knownCtrlID.
func (c *V4L2) KnownSettings() (types.CameraSettings, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.camera == nil {
		return nil, NotStartedErr
	}

	res := make(types.CameraSettings)
	for _, id := range knownCtrlID {
		ctrl, err := v4l2.GetControl(c.camera.Fd(), id)
		if err != nil {
			continue
		}
		res[ctrl.ID] = ctrl.Value
	}

	return res, nil
}
