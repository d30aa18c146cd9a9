package capture

import (
	"context"

	"github.com/pkg/errors"

	"chronosnap-pi/pkg/config"
	"chronosnap-pi/pkg/types"
)

// pipeline acquires the camera if needed, focuses if configured, captures
// one frame and writes it. Every failure is a *types.CaptureError.
func (o *Orchestrator) pipeline(ctx context.Context, cam Camera, settings config.Settings, id string, index int) (string, error) {
	if err := cam.Acquire(ctx); err != nil {
		return "", classify(err, types.ErrResourceUnavailable)
	}
	if settings.Autofocus {
		if err := o.focus(ctx, cam, settings.FocusRetries); err != nil {
			return "", classify(err, types.ErrFocusFailed)
		}
	}
	frame, err := cam.CaptureFrame(ctx)
	if err != nil {
		return "", classify(err, types.ErrResourceUnavailable)
	}
	path, err := o.writer.WriteFrame(id, index, frame)
	if err != nil {
		return "", classify(err, types.ErrWriteFailed)
	}

	return path, nil
}

func (o *Orchestrator) focus(ctx context.Context, cam Camera, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = cam.Focus(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < retries {
			o.logger.Warnf("orchestrator: focus attempt %d/%d failed: %s", attempt+1, retries+1, err)
		}
	}

	return err
}

func classify(err, kind error) error {
	var ce *types.CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return types.NewCaptureError(kind, err)
}
