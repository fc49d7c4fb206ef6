// Package frame provides the packed 3-channel pixel buffer that flows between
// the decoder, the inpainting engine and the encoder.
package frame

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Channels is number of interleaved channels per pixel
const Channels = 3

// ChannelOrder names the byte order of a pixel
type ChannelOrder string

const (
	// BGR is the order of the decode/encode side (ffmpeg bgr24)
	BGR ChannelOrder = "bgr"
	// RGB is the order most inpainting models expect
	RGB ChannelOrder = "rgb"
)

var (
	// ErrSizeMismatch is returned when buffers of different geometry are combined
	ErrSizeMismatch = errors.New("frame size mismatch")
)

// Frame is a packed Width*Height*3 pixel buffer. Channel order is a property of
// the surrounding stage and is not stored per frame.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a black frame
func New(width, height int) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, Size(width, height)),
	}
}

// Size returns number of bytes of a frame
func Size(width, height int) int {
	return width * height * Channels
}

// Valid checks that the buffer matches declared geometry
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == Size(f.Width, f.Height)
}

// SameSize reports whether two frames have the same geometry
func (f Frame) SameSize(other Frame) bool {
	return f.Width == other.Width && f.Height == other.Height && len(f.Pix) == len(other.Pix)
}

// Clone returns deep copy
func (f Frame) Clone() Frame {
	c := Frame{Width: f.Width, Height: f.Height, Pix: make([]byte, len(f.Pix))}
	copy(c.Pix, f.Pix)
	return c
}

// Mat wraps the pixels into a CV_8UC3 matrix without copying. The frame must
// outlive the matrix; the caller closes it.
func (f Frame) Mat() (gocv.Mat, error) {
	if !f.Valid() {
		return gocv.Mat{}, errors.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	m, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "Can't create matrix")
	}
	return m, nil
}

// FromMat copies a CV_8UC3 matrix into a new frame
func FromMat(m gocv.Mat) (Frame, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, errors.Errorf("expected 8-bit 3 channel matrix, got type %d", m.Type())
	}
	f := Frame{Width: m.Cols(), Height: m.Rows(), Pix: m.ToBytes()}
	if !f.Valid() {
		return Frame{}, errors.Errorf("matrix %dx%d has %d bytes", f.Width, f.Height, len(f.Pix))
	}
	return f, nil
}

// SwapRB returns a copy with the first and the third channel exchanged (BGR <-> RGB)
func (f Frame) SwapRB() (Frame, error) {
	src, err := f.Mat()
	if err != nil {
		return Frame{}, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToRGB)
	return FromMat(dst)
}

// Convert returns frame in the target order. Frames already in that order are returned as is.
func Convert(f Frame, from, to ChannelOrder) (Frame, error) {
	if from == to {
		return f, nil
	}
	return f.SwapRB()
}

// Blend mixes two frames as a*(1-w) + b*w with rounding. w is clamped to [0,1].
func Blend(a, b Frame, w float64) (Frame, error) {
	if !a.SameSize(b) {
		return Frame{}, errors.Wrapf(ErrSizeMismatch, "%dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	w = math.Min(math.Max(w, 0), 1)
	if w == 0 {
		return a.Clone(), nil
	}
	if w == 1 {
		return b.Clone(), nil
	}
	ma, err := a.Mat()
	if err != nil {
		return Frame{}, err
	}
	defer ma.Close()
	mb, err := b.Mat()
	if err != nil {
		return Frame{}, err
	}
	defer mb.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.AddWeighted(ma, 1-w, mb, w, 0, &dst)
	return FromMat(dst)
}

// FromImage packs any image into a BGR frame
func FromImage(img image.Image) Frame {
	bounds := img.Bounds()
	f := New(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			f.Pix[i] = c.B
			f.Pix[i+1] = c.G
			f.Pix[i+2] = c.R
			i += Channels
		}
	}
	return f
}

// ToImage unpacks a BGR frame into an opaque RGBA image
func (f Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for p, i := 0, 0; i+2 < len(f.Pix); p, i = p+4, i+Channels {
		img.Pix[p] = f.Pix[i+2]
		img.Pix[p+1] = f.Pix[i+1]
		img.Pix[p+2] = f.Pix[i]
		img.Pix[p+3] = 0xff
	}
	return img
}
