// Package mask rasterizes watermark regions into single channel binary masks.
package mask

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/unmark/region"
)

const (
	// On is the value of a masked pixel
	On = 255
	// DefaultKernel is the ellipse diameter used for spatial inpainting engines
	DefaultKernel = 17
)

// Mask is a single channel 0/255 buffer with the frame's dimensions.
type Mask struct {
	Width  int
	Height int
	Pix    []byte
}

// New creates all-zero mask
func New(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height),
	}
}

// At returns value at (x, y)
func (m *Mask) At(x, y int) byte {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Count returns number of masked pixels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Empty reports whether no pixel is masked
func (m *Mask) Empty() bool {
	for _, v := range m.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Fill sets every pixel of the region (clamped to the mask) to On
func (m *Mask) Fill(r region.Region) {
	r = r.Clamp(m.Width, m.Height)
	if !r.Valid() {
		return
	}
	for y := r.Y1; y < r.Y2; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := r.X1; x < r.X2; x++ {
			row[x] = On
		}
	}
}

// Build rasterizes union of regions. No regions gives an all-zero mask.
func Build(regions []region.Region, width, height int) *Mask {
	m := New(width, height)
	for _, r := range regions {
		m.Fill(r)
	}
	return m
}

// Dilate grows the mask by an elliptical (MORPH_ELLIPSE) structuring element
// of the given diameter. Kernel sizes below 2 return a copy.
func Dilate(m *Mask, kernel int) (*Mask, error) {
	out := New(m.Width, m.Height)
	if kernel < 2 || m.Empty() {
		copy(out.Pix, m.Pix)
		return out, nil
	}
	src, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8U, m.Pix)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't wrap %dx%d mask", m.Width, m.Height)
	}
	defer src.Close()

	element := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernel, kernel))
	defer element.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(src, &dilated, element)

	data := dilated.ToBytes()
	if len(data) != len(out.Pix) {
		return nil, errors.Errorf("dilation returned %d bytes for %dx%d mask", len(data), m.Width, m.Height)
	}
	copy(out.Pix, data)
	return out, nil
}

// Builder creates per-frame masks for one engine profile.
type Builder struct {
	// Dilate is ellipse diameter in pixels; zero keeps the tight mask
	Dilate int
}

// Build rasterizes regions and applies dilation when configured
func (b Builder) Build(regions []region.Region, width, height int) (*Mask, error) {
	m := Build(regions, width, height)
	if b.Dilate < 2 || len(regions) == 0 {
		return m, nil
	}
	return Dilate(m, b.Dilate)
}
