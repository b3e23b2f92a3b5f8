// Package depth holds the depth sample type shared by the mapper, the
// projector, the codec and the transport layers.
package depth

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

// Sample is one depth frame: row-major 16-bit readings where 0 means no
// return. Millimetres = raw * Scale. Consumers treat a Sample as read-only.
type Sample struct {
	Width  int
	Height int
	Scale  float32
	Data   []uint16
}

// ErrInvalidSample reports a sample whose buffer does not match its
// dimensions.
var ErrInvalidSample = errors.New("depth: invalid sample")

// NewSample allocates a zeroed w×h sample.
func NewSample(w, h int, scale float32) *Sample {
	return &Sample{Width: w, Height: h, Scale: scale, Data: make([]uint16, w*h)}
}

// Validate checks dimensions against the data length.
func (s *Sample) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSample)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSample, s.Width, s.Height)
	}
	if len(s.Data) != s.Width*s.Height {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidSample, len(s.Data), s.Width, s.Height)
	}
	if s.Scale <= 0 {
		return fmt.Errorf("%w: scale %v", ErrInvalidSample, s.Scale)
	}
	return nil
}

// At returns the raw reading at (x, y).
func (s *Sample) At(x, y int) uint16 {
	return s.Data[y*s.Width+x]
}

// Set writes the raw reading at (x, y).
func (s *Sample) Set(x, y int, v uint16) {
	s.Data[y*s.Width+x] = v
}

// Clone returns a deep copy.
func (s *Sample) Clone() *Sample {
	if s == nil {
		return nil
	}
	c := *s
	c.Data = append([]uint16(nil), s.Data...)
	return &c
}

// Millimetres returns a copy with Scale 1, clamping at the uint16 ceiling.
// The raw depth stream is always carried in millimetres.
func (s *Sample) Millimetres() *Sample {
	if s.Scale == 1 {
		return s.Clone()
	}
	out := NewSample(s.Width, s.Height, 1)
	for i, v := range s.Data {
		mm := math.Round(float64(v) * float64(s.Scale))
		if mm > math.MaxUint16 {
			mm = math.MaxUint16
		}
		out.Data[i] = uint16(mm)
	}
	return out
}

// ValidCount returns the number of non-zero readings.
func (s *Sample) ValidCount() int {
	n := 0
	for _, v := range s.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// ToGray16 renders the raw readings as a 16-bit grayscale image.
func (s *Sample) ToGray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		row := s.Data[y*s.Width : (y+1)*s.Width]
		for x, v := range row {
			img.SetGray16(x, y, color.Gray16{Y: v})
		}
	}
	return img
}

// FromImage converts a decoded 16-bit image back into a Sample. Images of
// other depths go through the Gray16 color model.
func FromImage(img image.Image, scale float32) (*Sample, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidSample)
	}
	s := NewSample(b.Dx(), b.Dy(), scale)
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				s.Data[y*s.Width+x] = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return s, nil
	}
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			s.Data[y*s.Width+x] = c.Y
		}
	}
	return s, nil
}
