// Package codec converts rasters and depth samples to and from the
// compressed payloads carried on the wire.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/depthcast/internal/depth"
)

// Format is a payload encoding.
type Format int

const (
	JPEG Format = iota
	PNG
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ErrUnsupportedFormat is returned for payloads that are neither JPEG nor PNG
// and for unknown Format values.
var ErrUnsupportedFormat = errors.New("codec: unsupported format")

// Options are the encoder settings.
type Options struct {
	JPEGQuality    int
	PNGCompression png.CompressionLevel
}

// DefaultOptions matches the sender defaults: JPEG q85, fast PNG.
func DefaultOptions() Options {
	return Options{JPEGQuality: 85, PNGCompression: png.BestSpeed}
}

// Codec encodes and decodes frames. It is stateless and safe for
// concurrent use.
type Codec struct {
	opts Options
}

// New returns a Codec. A zero JPEGQuality uses the default.
func New(opts Options) *Codec {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultOptions().JPEGQuality
	}
	return &Codec{opts: opts}
}

// Encode compresses img in the given format.
func (c *Codec) Encode(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case JPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.opts.JPEGQuality))
	case PNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(c.opts.PNGCompression))
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %v: %w", f, err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses a JPEG or PNG payload. The concrete image type is
// whatever the decoder produced.
func (c *Codec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// EncodeDepth stores a sample losslessly as a 16-bit grayscale PNG in
// millimetres.
func (c *Codec) EncodeDepth(s *depth.Sample) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return c.Encode(s.Millimetres().ToGray16(), PNG)
}

// DecodeDepth reverses EncodeDepth. The result has Scale 1.
func (c *Codec) DecodeDepth(data []byte) (*depth.Sample, error) {
	img, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	return depth.FromImage(img, 1)
}

// Clone deep-copies an image so that the copy shares no pixel memory with
// img.
func Clone(img image.Image) image.Image {
	switch src := img.(type) {
	case nil:
		return nil
	case *image.RGBA:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.NRGBA:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.Gray:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.Gray16:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.YCbCr:
		dst := *src
		dst.Y = append([]byte(nil), src.Y...)
		dst.Cb = append([]byte(nil), src.Cb...)
		dst.Cr = append([]byte(nil), src.Cr...)
		return &dst
	}
	return imaging.Clone(img)
}

// ToRGBA returns img as *image.RGBA, converting if needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
