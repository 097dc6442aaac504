// Package imaging decodes raw picture bytes at a reduced sample size.
package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pictureloader/pictureloader/pkg/errors"
)

// bytesPerPixel matches a 32-bit ARGB raster.
const bytesPerPixel = 4

// Picture is a decoded, possibly downsampled image.
type Picture struct {
	Image        image.Image
	Format       string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	SampleFactor int
	DecodeTime   time.Duration
}

// WeightKB returns the in-memory footprint of the raster in kilobytes,
// rounded up and never less than one.
func (p *Picture) WeightKB() int64 {
	if p == nil {
		return 1
	}
	kb := (int64(p.Width)*int64(p.Height)*bytesPerPixel + 1023) / 1024
	if kb < 1 {
		return 1
	}
	return kb
}

// Bounds describes an image without its pixels.
type Bounds struct {
	Width  int
	Height int
	Format string
}

// DecodeBounds reads only the header of r.
func DecodeBounds(r io.Reader) (Bounds, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Bounds{}, decodeError("decode_bounds", "unrecognized image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Bounds{}, decodeError("decode_bounds", "image has no pixels", nil).
			WithDetail("width", cfg.Width).
			WithDetail("height", cfg.Height)
	}
	return Bounds{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// box averages every source pixel covered by a destination pixel, which is
// exact for the power-of-two reductions Decode applies.
var box = &draw.Kernel{Support: 0.5, At: func(float64) float64 { return 1 }}

// Decode decodes data for a reqWidth x reqHeight slot. The bounds are read
// first, the sample factor is derived from them and the full raster is then
// reduced by that factor. Zero dimensions decode at full size.
func Decode(data []byte, reqWidth, reqHeight int) (*Picture, error) {
	return DecodeLimited(data, reqWidth, reqHeight, 0)
}

// DecodeLimited is Decode with a cap on the source pixel count declared by
// the header. Larger pictures fail before their raster is allocated.
// maxPixels <= 0 means no cap.
func DecodeLimited(data []byte, reqWidth, reqHeight int, maxPixels int64) (*Picture, error) {
	start := time.Now()

	b, err := DecodeBounds(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if maxPixels > 0 && int64(b.Width)*int64(b.Height) > maxPixels {
		return nil, decodeError("decode", "image exceeds the pixel limit", nil).
			WithContext("format", b.Format).
			WithDetail("width", b.Width).
			WithDetail("height", b.Height).
			WithDetail("max_pixels", maxPixels)
	}
	factor := SampleFactor(b.Width, b.Height, reqWidth, reqHeight)

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError("decode", "corrupt image data", err).WithContext("format", b.Format)
	}

	img := src
	if factor > 1 {
		img = downsample(src, factor)
	}
	bounds := img.Bounds()

	return &Picture{
		Image:        img,
		Format:       format,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		SourceWidth:  b.Width,
		SourceHeight: b.Height,
		SampleFactor: factor,
		DecodeTime:   time.Since(start),
	}, nil
}

func downsample(src image.Image, factor int) image.Image {
	sb := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, scaled(sb.Dx(), factor), scaled(sb.Dy(), factor)))
	box.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

// EncodePNG writes the picture as PNG.
func EncodePNG(w io.Writer, p *Picture) error {
	if p == nil || p.Image == nil {
		return errors.NewError(errors.ErrCodeDecodeFailed, "no picture to encode").WithComponent("imaging")
	}
	return png.Encode(w, p.Image)
}

func decodeError(op, msg string, cause error) *errors.LoaderError {
	e := errors.NewError(errors.ErrCodeDecodeFailed, msg).
		WithComponent("imaging").
		WithOperation(op)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
