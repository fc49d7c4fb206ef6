// Package media decodes and encodes video through the ffmpeg command line
// tools and reads and writes still images.
//
// Frames travel as packed bgr24 over pipes, so nothing but the tools' own
// output files ever touches the disk.
package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LdDl/unmark/frame"
)

// EncodeOptions tune the re-encode of cleaned frames
type EncodeOptions struct {
	// CRF is used when the source bit rate is unknown
	CRF    int    `yaml:"crf"`
	Preset string `yaml:"preset"`
	// AudioCodec for the final mux, "copy" keeps the source stream
	AudioCodec string `yaml:"audio_codec"`
	// KeepBitRate reuses the source video bit rate when it is known
	KeepBitRate bool `yaml:"keep_bitrate"`
}

// DefaultEncodeOptions returns libx264 settings close to the source quality
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		CRF:         18,
		Preset:      "medium",
		AudioCodec:  "copy",
		KeepBitRate: true,
	}
}

// FFmpeg is the ffmpeg backed media implementation
type FFmpeg struct {
	bin    Binaries
	opts   EncodeOptions
	logger logrus.FieldLogger
}

// NewFFmpeg creates media backend for located binaries
func NewFFmpeg(bin Binaries, opts EncodeOptions, logger logrus.FieldLogger) *FFmpeg {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FFmpeg{bin: bin, opts: opts, logger: logger}
}

// Inspect reads stream metadata of a video file
func (m *FFmpeg) Inspect(ctx context.Context, path string) (Info, error) {
	return m.bin.Inspect(ctx, path)
}

// Reader streams decoded frames of a video in presentation order
type Reader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	width  int
	height int
	index  int
	closed bool
}

// Frames starts decoding path into width x height bgr24 frames
func (m *FFmpeg) Frames(ctx context.Context, path string, width, height int) (*Reader, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bad frame size %dx%d", width, height)
	}
	cmd := exec.CommandContext(ctx, m.bin.FFmpeg, decodeArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Can't open ffmpeg stdout")
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "Can't start ffmpeg decoder")
	}
	m.logger.WithFields(logrus.Fields{"path": path, "width": width, "height": height}).Debug("Decoder started")
	return &Reader{cmd: cmd, stdout: stdout, stderr: stderr, width: width, height: height}, nil
}

func decodeArgs(path string) []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	}
}

// Next returns the next frame or io.EOF after the last one
func (r *Reader) Next() (frame.Frame, error) {
	f := frame.New(r.width, r.height)
	_, err := io.ReadFull(r.stdout, f.Pix)
	switch {
	case err == io.EOF:
		if werr := r.wait(); werr != nil {
			return frame.Frame{}, werr
		}
		return frame.Frame{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		r.wait()
		return frame.Frame{}, errors.Errorf("truncated frame %d", r.index)
	case err != nil:
		return frame.Frame{}, errors.Wrapf(err, "Can't read frame %d", r.index)
	}
	r.index++
	return f, nil
}

func (r *Reader) wait() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.cmd.Wait(); err != nil {
		return toolError(err, "ffmpeg decoder", r.stderr.String())
	}
	return nil
}

// Close stops the decoder. Safe to call after io.EOF
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.stdout.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.cmd.Wait()
	return nil
}

// Encoder pipes bgr24 frames into libx264
type Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *bufio.Writer
	group  *errgroup.Group
	stderr *tailBuffer
	size   int
	frames int
	done   bool
}

// NewEncoder starts an encoder writing a video-only file at path
func (m *FFmpeg) NewEncoder(ctx context.Context, path string, info Info) (*Encoder, error) {
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, errors.Errorf("bad stream parameters %dx%d@%f", info.Width, info.Height, info.FPS)
	}
	args := encodeArgs(path, info, m.opts)
	cmd := exec.CommandContext(ctx, m.bin.FFmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Can't open ffmpeg stdin")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Can't open ffmpeg stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "Can't start ffmpeg encoder")
	}
	e := &Encoder{
		cmd:    cmd,
		stdin:  stdin,
		w:      bufio.NewWriterSize(stdin, frame.Size(info.Width, info.Height)),
		group:  &errgroup.Group{},
		stderr: &tailBuffer{},
		size:   frame.Size(info.Width, info.Height),
	}
	e.group.Go(func() error {
		_, err := io.Copy(e.stderr, stderrPipe)
		return err
	})
	m.logger.WithFields(logrus.Fields{"path": path, "args": args}).Debug("Encoder started")
	return e, nil
}

func encodeArgs(path string, info Info, opts EncodeOptions) []string {
	rate := info.Rate
	if rate == "" || rate == "0/0" {
		rate = strconv.FormatFloat(info.FPS, 'f', -1, 64)
	}
	args := []string{
		"-y",
		"-nostdin",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", rate,
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		// yuv420p needs even dimensions
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-pix_fmt", "yuv420p",
	}
	if opts.Preset != "" {
		args = append(args, "-preset", opts.Preset)
	}
	if opts.KeepBitRate && info.BitRate > 0 {
		args = append(args, "-b:v", strconv.FormatInt(info.BitRate, 10))
	} else {
		args = append(args, "-crf", strconv.Itoa(opts.CRF))
	}
	return append(args, path)
}

// Frames returns number of frames written
func (e *Encoder) Frames() int {
	return e.frames
}

// Write appends one frame
func (e *Encoder) Write(f frame.Frame) error {
	if e.done {
		return errors.New("encoder is closed")
	}
	if len(f.Pix) != e.size {
		return errors.Wrapf(frame.ErrSizeMismatch, "frame %d has %d bytes, expected %d", e.frames, len(f.Pix), e.size)
	}
	if _, err := e.w.Write(f.Pix); err != nil {
		return errors.Wrapf(err, "Can't write frame %d to encoder", e.frames)
	}
	e.frames++
	return nil
}

// Close flushes pending frames and waits for the encoder to finish
func (e *Encoder) Close() error {
	if e.done {
		return nil
	}
	e.done = true
	flushErr := e.w.Flush()
	e.stdin.Close()
	e.group.Wait()
	if err := e.cmd.Wait(); err != nil {
		return toolError(err, "ffmpeg encoder", e.stderr.String())
	}
	if flushErr != nil {
		return errors.Wrap(flushErr, "Can't flush encoder")
	}
	return nil
}

// Abort kills the encoder. Its output file is left to the caller
func (e *Encoder) Abort() {
	if e.done {
		return
	}
	e.done = true
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.group.Wait()
	e.cmd.Wait()
}

// MuxAudio writes out with the video stream of video and, when hasAudio, the audio of source
func (m *FFmpeg) MuxAudio(ctx context.Context, video, source, out string, hasAudio bool) error {
	args := muxArgs(video, source, out, hasAudio, m.opts.AudioCodec)
	if _, err := Exec(ctx, append([]string{m.bin.FFmpeg}, args...)...); err != nil {
		return errors.Wrapf(err, "Can't mux '%s'", out)
	}
	return nil
}

func muxArgs(video, source, out string, hasAudio bool, audioCodec string) []string {
	args := []string{"-y", "-nostdin", "-v", "error", "-i", video}
	if hasAudio {
		if audioCodec == "" {
			audioCodec = "copy"
		}
		args = append(args,
			"-i", source,
			"-map", "0:v:0",
			"-map", "1:a:0?",
			"-c:v", "copy",
			"-c:a", audioCodec,
			"-shortest",
		)
	} else {
		args = append(args, "-map", "0:v:0", "-c:v", "copy")
	}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".mp4", ".mov", ".m4v":
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, out)
}
