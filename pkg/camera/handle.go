package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
)

// Handle owns zero or one open Driver session. Failures are reported as
// *types.CaptureError.
type Handle struct {
	name   string
	driver Driver

	lock   sync.Mutex
	open   bool
	logger *zap.SugaredLogger
}

func NewHandle(name string, driver Driver) *Handle {
	return &Handle{
		name:   name,
		driver: driver,
		logger: utils.GetLogger(),
	}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) IsOpen() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.open
}

// Acquire opens the camera if it is not open yet.
func (h *Handle) Acquire(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.open {
		return nil
	}
	if err := h.driver.Open(ctx); err != nil {
		return types.NewCaptureError(types.ErrResourceUnavailable, errors.Wrapf(err, "open camera %s", h.name))
	}
	h.open = true
	h.logger.Debugf("camera %s acquired", h.name)

	return nil
}

func (h *Handle) Focus(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.open {
		return types.NewCaptureError(types.ErrResourceUnavailable, errors.Errorf("camera %s is not acquired", h.name))
	}
	if err := h.driver.Focus(ctx); err != nil {
		return types.NewCaptureError(types.ErrFocusFailed, err)
	}

	return nil
}

func (h *Handle) CaptureFrame(ctx context.Context) ([]byte, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.open {
		return nil, types.NewCaptureError(types.ErrResourceUnavailable, errors.Errorf("camera %s is not acquired", h.name))
	}
	frame, err := h.driver.Capture(ctx)
	if err != nil {
		return nil, types.NewCaptureError(types.ErrResourceUnavailable, errors.Wrap(err, "capture frame"))
	}

	return frame, nil
}

// Release closes the camera. Calling it on a closed or never acquired
// handle is a no-op.
func (h *Handle) Release() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.open {
		return nil
	}
	h.open = false
	if err := h.driver.Close(); err != nil {
		return errors.Wrapf(err, "close camera %s", h.name)
	}
	h.logger.Debugf("camera %s released", h.name)

	return nil
}
