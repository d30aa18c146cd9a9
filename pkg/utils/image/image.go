package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"github.com/pkg/errors"
)

const DefaultQuality = 90

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}

// Size reads the dimensions of a JPEG frame without decoding its pixels.
func Size(frame []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return 0, 0, errors.Wrap(err, "decode jpeg header")
	}

	return cfg.Width, cfg.Height, nil
}

// Pattern draws a colour-bar test card whose bars are shifted by seq, so
// consecutive frames differ.
func Pattern(width, height, seq int) image.Image {
	bars := []color.RGBA{
		{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff},
		{R: 0xc0, G: 0xc0, A: 0xff},
		{G: 0xc0, B: 0xc0, A: 0xff},
		{G: 0xc0, A: 0xff},
		{R: 0xc0, B: 0xc0, A: 0xff},
		{R: 0xc0, A: 0xff},
		{B: 0xc0, A: 0xff},
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for x := 0; x < width; x++ {
		c := bars[(x/barWidth+seq)%len(bars)]
		for y := 0; y < height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	return img
}
