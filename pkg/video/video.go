package video

import (
	"os"
	"path"

	"github.com/icza/mjpeg"
	"github.com/pkg/errors"

	"chronosnap-pi/pkg/storage/sequence"
	"chronosnap-pi/pkg/storage/util"
	"chronosnap-pi/pkg/utils"
	"chronosnap-pi/pkg/utils/image"
)

const DefaultFPS = 10

var ErrNoFrames = errors.New("sequence has no frames")

type Builder struct {
	width  int
	height int
	fps    int

	cnt int
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

// Add appends a JPEG frame. Frames whose size differs from the video are
// rejected, AVI streams have a single frame size.
func (b *Builder) Add(frame []byte) error {
	w, h, err := image.Size(frame)
	if err != nil {
		return err
	}
	if w != b.width || h != b.height {
		return errors.Errorf("frame is %dx%d, video is %dx%d", w, h, b.width, b.height)
	}
	if err = b.aw.AddFrame(frame); err != nil {
		return err
	}
	b.cnt++

	return nil
}

func (b *Builder) Close() error {
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	return b.cnt
}

// Export renders every frame of seq into an MJPEG AVI at seq.VideoPath().
// The first frame fixes the video size; frames that do not match are skipped.
func Export(seq *sequence.Sequence, fps int) (string, int, error) {
	logger := utils.GetLogger()
	if fps <= 0 {
		fps = DefaultFPS
	}
	images, err := seq.ImagePaths()
	if err != nil {
		return "", 0, errors.Wrap(err, "list frames")
	}
	if len(images) == 0 {
		return "", 0, ErrNoFrames
	}
	first, err := os.ReadFile(images[0])
	if err != nil {
		return "", 0, errors.Wrap(err, "read first frame")
	}
	width, height, err := image.Size(first)
	if err != nil {
		return "", 0, err
	}

	out := seq.VideoPath()
	if err = util.MkdirAll(path.Dir(out)); err != nil {
		return "", 0, errors.Wrap(err, "create video dir")
	}
	b, err := NewBuilder(out, width, height, fps)
	if err != nil {
		return "", 0, errors.Wrap(err, "create video")
	}
	for _, p := range images {
		frame, err := os.ReadFile(p)
		if err != nil {
			_ = b.Close()
			return "", 0, errors.Wrapf(err, "read frame %s", p)
		}
		if err = b.Add(frame); err != nil {
			logger.Warnf("skip frame %s: %s", p, err)
		}
	}
	if err = b.Close(); err != nil {
		return "", 0, errors.Wrap(err, "finish video")
	}
	logger.Infof("exported %d frames of %s to %s", b.GetCnt(), seq.Name, out)

	return out, b.GetCnt(), nil
}
