package camera

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chronosnap-pi/pkg/types"
)

const (
	DefaultDevice       = "/dev/video0"
	DefaultWidth        = 1920
	DefaultHeight       = 1080
	DefaultFocusTimeout = 5 * time.Second

	// PatternSelector selects the built-in test-pattern camera.
	PatternSelector = "pattern"
)

// Driver is the raw hardware access behind a Handle.
type Driver interface {
	Open(ctx context.Context) error
	Focus(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

type Options struct {
	Width        int
	Height       int
	FocusTimeout time.Duration
	Controls     types.CameraSettings
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.FocusTimeout <= 0 {
		o.FocusTimeout = DefaultFocusTimeout
	}
	return o
}

// Open returns an unacquired Handle for the camera named by selector: a
// device path, a V4L2 index such as "0", or PatternSelector. No hardware is
// touched until Acquire.
func Open(selector string, opts Options) *Handle {
	opts = opts.withDefaults()
	selector = strings.TrimSpace(selector)
	if selector == PatternSelector {
		return NewHandle(selector, NewPattern(opts.Width, opts.Height))
	}

	return NewHandle(selector, NewV4L2(DevicePath(selector), opts))
}

// DevicePath maps a camera selector to a device node.
func DevicePath(selector string) string {
	if selector == "" {
		return DefaultDevice
	}
	if n, err := strconv.Atoi(selector); err == nil && n >= 0 {
		return "/dev/video" + strconv.Itoa(n)
	}

	return selector
}
