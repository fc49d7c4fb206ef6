package media

import (
	"bufio"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/LdDl/unmark/frame"
)

// ErrUnsupportedFormat is returned for image extensions that can't be written
var ErrUnsupportedFormat = errors.New("unsupported image format")

// JPEGQuality is used for .jpg and .jpeg output
const JPEGQuality = 95

// ImageExtensions are the still image inputs accepted
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".tif"}

// WritableExtensions are the still image outputs WriteImage can encode
var WritableExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".tif"}

// IsImage reports whether path has a still image extension
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// CanWriteImage reports whether WriteImage supports the extension of path
func CanWriteImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range WritableExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ReadImage decodes png, jpeg, bmp, tiff or webp file into a BGR frame
func ReadImage(path string) (frame.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return frame.Frame{}, errors.Wrapf(err, "Can't open image '%s'", path)
	}
	defer file.Close()
	img, format, err := image.Decode(bufio.NewReader(file))
	if err != nil {
		return frame.Frame{}, errors.Wrapf(err, "Can't decode image '%s'", path)
	}
	f := frame.FromImage(img)
	if !f.Valid() {
		return frame.Frame{}, errors.Errorf("empty %s image '%s'", format, path)
	}
	return f, nil
}

// WriteImage encodes a BGR frame, the format is chosen by extension of path.
// Missing parent directories are created.
func WriteImage(path string, f frame.Frame) error {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(*os.File, image.Image) error
	switch ext {
	case ".png":
		encode = func(w *os.File, img image.Image) error { return png.Encode(w, img) }
	case ".jpg", ".jpeg":
		encode = func(w *os.File, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
		}
	case ".bmp":
		encode = func(w *os.File, img image.Image) error { return bmp.Encode(w, img) }
	case ".tif", ".tiff":
		encode = func(w *os.File, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}
	case ".webp":
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "'%s'", ext)
	}
	if !f.Valid() {
		return errors.Errorf("invalid frame %dx%d", f.Width, f.Height)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "Can't create output directory")
	}
	if encode == nil {
		return writeOpenCV(path, f)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Can't create '%s'", path)
	}
	if err := encode(file, f.ToImage()); err != nil {
		file.Close()
		return errors.Wrapf(err, "Can't encode '%s'", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "Can't close '%s'", path)
	}
	return nil
}

// writeOpenCV covers formats with no pure Go encoder
func writeOpenCV(path string, f frame.Frame) error {
	mat, err := f.Mat()
	if err != nil {
		return errors.Wrapf(err, "Can't encode '%s'", path)
	}
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		return errors.Errorf("Can't encode '%s'", path)
	}
	return nil
}

// ReadImage decodes a still image
func (m *FFmpeg) ReadImage(path string) (frame.Frame, error) {
	return ReadImage(path)
}

// WriteImage encodes a still image
func (m *FFmpeg) WriteImage(path string, f frame.Frame) error {
	return WriteImage(path, f)
}
