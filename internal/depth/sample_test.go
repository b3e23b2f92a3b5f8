package depth

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleValidate(t *testing.T) {
	good := NewSample(4, 3, 1)
	assert.NoError(t, good.Validate())

	tests := []struct {
		name string
		s    *Sample
	}{
		{"nil", nil},
		{"zero width", &Sample{Width: 0, Height: 3, Scale: 1}},
		{"short data", &Sample{Width: 4, Height: 3, Scale: 1, Data: make([]uint16, 11)}},
		{"zero scale", &Sample{Width: 1, Height: 1, Scale: 0, Data: []uint16{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			assert.True(t, errors.Is(err, ErrInvalidSample), "got %v", err)
		})
	}
}

func TestSampleCloneIsDeep(t *testing.T) {
	s := NewSample(2, 2, 1)
	s.Set(1, 1, 900)
	c := s.Clone()
	c.Set(1, 1, 1)
	assert.Equal(t, uint16(900), s.At(1, 1))
	assert.Equal(t, uint16(1), c.At(1, 1))
}

func TestMillimetres(t *testing.T) {
	s := &Sample{Width: 3, Height: 1, Scale: 0.25, Data: []uint16{0, 4000, 65535}}
	mm := s.Millimetres()
	assert.Equal(t, float32(1), mm.Scale)
	assert.Equal(t, []uint16{0, 1000, 16384}, mm.Data)

	big := &Sample{Width: 1, Height: 1, Scale: 2, Data: []uint16{40000}}
	assert.Equal(t, uint16(65535), big.Millimetres().Data[0])
}

func TestGray16RoundTrip(t *testing.T) {
	s := NewSample(5, 4, 1)
	for i := range s.Data {
		s.Data[i] = uint16(i * 3001)
	}
	back, err := FromImage(s.ToGray16(), 1)
	require.NoError(t, err)
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromImageConvertsOtherModels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(1, 0, color.Gray{Y: 0xff})
	s, err := FromImage(img, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0xffff}, s.Data)
	assert.Equal(t, 1, s.ValidCount())
}

func TestFromImageEmpty(t *testing.T) {
	_, err := FromImage(image.NewGray16(image.Rect(0, 0, 0, 0)), 1)
	assert.ErrorIs(t, err, ErrInvalidSample)
}
