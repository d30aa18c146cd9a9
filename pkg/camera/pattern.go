package camera

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkg/errors"

	"chronosnap-pi/pkg/utils/image"
)

// Pattern is a Driver that renders a colour-bar test card, for running
// without a camera attached.
type Pattern struct {
	width  int
	height int

	lock sync.Mutex
	open bool
	seq  int
}

func NewPattern(width, height int) *Pattern {
	return &Pattern{width: width, height: height}
}

func (p *Pattern) Open(_ context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.open {
		return StartedErr
	}
	p.open = true
	return nil
}

func (p *Pattern) Focus(ctx context.Context) error {
	return ctx.Err()
}

func (p *Pattern) Capture(ctx context.Context) ([]byte, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.open {
		return nil, NotStartedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := image.EncodeJPEG(image.Pattern(p.width, p.height, p.seq), &buf, image.DefaultQuality); err != nil {
		return nil, errors.Wrap(err, "encode test pattern")
	}
	p.seq++

	return buf.Bytes(), nil
}

func (p *Pattern) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.open = false
	return nil
}
