package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when ffmpeg or ffprobe can't be located
var ErrNotFound = errors.New("ffmpeg not found: place ffmpeg and ffprobe into the 'ffmpeg' directory or add them to PATH")

// DefaultDir is the directory searched before PATH
const DefaultDir = "ffmpeg"

const checkTimeout = 5 * time.Second

// Binaries are resolved paths of the ffmpeg tools
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

func executable(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// Locate prefers both tools from dir, then both tools from PATH.
// Empty dir means DefaultDir.
func Locate(dir string, logger logrus.FieldLogger) (Binaries, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dir == "" {
		dir = DefaultDir
	}
	local := Binaries{
		FFmpeg:  filepath.Join(dir, executable("ffmpeg")),
		FFprobe: filepath.Join(dir, executable("ffprobe")),
	}
	if isFile(local.FFmpeg) && isFile(local.FFprobe) {
		ffmpeg, err := filepath.Abs(local.FFmpeg)
		if err != nil {
			return Binaries{}, errors.Wrap(err, "Can't resolve local ffmpeg")
		}
		ffprobe, err := filepath.Abs(local.FFprobe)
		if err != nil {
			return Binaries{}, errors.Wrap(err, "Can't resolve local ffprobe")
		}
		logger.WithFields(logrus.Fields{"ffmpeg": ffmpeg, "ffprobe": ffprobe}).Debug("Found local ffmpeg")
		return Binaries{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
	}

	ffmpeg, errFFmpeg := exec.LookPath("ffmpeg")
	ffprobe, errLookup := exec.LookPath("ffprobe")
	if errFFmpeg != nil || errLookup != nil {
		return Binaries{}, ErrNotFound
	}
	logger.WithFields(logrus.Fields{"ffmpeg": ffmpeg, "ffprobe": ffprobe}).Info("Using system ffmpeg (local ffmpeg not found)")
	return Binaries{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Verify checks that both tools start and exit cleanly
func (b Binaries) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if _, err := Exec(ctx, b.FFmpeg, "-version"); err != nil {
		return errors.Wrap(err, "ffmpeg executable found but not working correctly")
	}
	if _, err := Exec(ctx, b.FFprobe, "-version"); err != nil {
		return errors.Wrap(err, "ffprobe executable found but not working correctly")
	}
	return nil
}

// Version returns first line of `ffmpeg -version`
func (b Binaries) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	out, err := Exec(ctx, b.FFmpeg, "-version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(line), nil
}
