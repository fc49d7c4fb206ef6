package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
	"github.com/LdDl/unmark/media"
	"github.com/LdDl/unmark/region"
)

const (
	testWidth  = 16
	testHeight = 8
)

// sourceFrame is BGR (10, 20, 30+i) everywhere so every frame is distinguishable
func sourceFrame(i int) frame.Frame {
	f := frame.New(testWidth, testHeight)
	for p := 0; p < len(f.Pix); p += frame.Channels {
		f.Pix[p] = 10
		f.Pix[p+1] = 20
		f.Pix[p+2] = byte(30 + i)
	}
	return f
}

func pixel(f frame.Frame, x, y int) [3]byte {
	i := (y*f.Width + x) * frame.Channels
	return [3]byte{f.Pix[i], f.Pix[i+1], f.Pix[i+2]}
}

type sliceReader struct {
	frames []frame.Frame
	next   int
	closed bool
}

func (r *sliceReader) Next() (frame.Frame, error) {
	if r.next >= len(r.frames) {
		return frame.Frame{}, io.EOF
	}
	f := r.frames[r.next].Clone()
	r.next++
	return f, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

type fakeEncoder struct {
	path    string
	frames  []frame.Frame
	closed  bool
	aborted bool
}

func (e *fakeEncoder) Write(f frame.Frame) error {
	if e.closed || e.aborted {
		return errors.New("write after close")
	}
	e.frames = append(e.frames, f.Clone())
	return nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	return os.WriteFile(e.path, []byte(fmt.Sprintf("video %d", len(e.frames))), 0o644)
}

func (e *fakeEncoder) Abort() {
	e.aborted = true
}

type fakeMedia struct {
	info       media.Info
	frames     []frame.Frame
	inspectErr error
	muxErr     error
	images     map[string]frame.Frame

	mu       sync.Mutex
	readers  []*sliceReader
	encoders []*fakeEncoder
	written  map[string]frame.Frame
}

func newFakeMedia(n int) *fakeMedia {
	frames := make([]frame.Frame, n)
	for i := range frames {
		frames[i] = sourceFrame(i)
	}
	return &fakeMedia{
		info: media.Info{
			Width:    testWidth,
			Height:   testHeight,
			FPS:      25,
			Rate:     "25/1",
			Frames:   n,
			HasAudio: true,
		},
		frames:  frames,
		images:  map[string]frame.Frame{},
		written: map[string]frame.Frame{},
	}
}

func (m *fakeMedia) Inspect(ctx context.Context, path string) (media.Info, error) {
	if m.inspectErr != nil {
		return media.Info{}, m.inspectErr
	}
	return m.info, nil
}

func (m *fakeMedia) Frames(ctx context.Context, path string, width, height int) (FrameReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &sliceReader{frames: m.frames}
	m.readers = append(m.readers, r)
	return r, nil
}

func (m *fakeMedia) NewEncoder(ctx context.Context, path string, info media.Info) (Encoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// ffmpeg creates its output right away
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, err
	}
	e := &fakeEncoder{path: path}
	m.encoders = append(m.encoders, e)
	return e, nil
}

func (m *fakeMedia) MuxAudio(ctx context.Context, video, source, out string, hasAudio bool) error {
	if m.muxErr != nil {
		os.WriteFile(out, []byte("partial"), 0o644)
		return m.muxErr
	}
	data, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(data, []byte(" + audio")...), 0o644)
}

func (m *fakeMedia) ReadImage(path string) (frame.Frame, error) {
	f, ok := m.images[path]
	if !ok {
		return frame.Frame{}, os.ErrNotExist
	}
	return f.Clone(), nil
}

func (m *fakeMedia) WriteImage(path string, f frame.Frame) error {
	m.mu.Lock()
	m.written[path] = f.Clone()
	m.mu.Unlock()
	return os.WriteFile(path, f.Pix, 0o644)
}

func (m *fakeMedia) lastEncoder() *fakeEncoder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.encoders) == 0 {
		return nil
	}
	return m.encoders[len(m.encoders)-1]
}

// fakeDetector returns detect(i) for the i-th call
type fakeDetector struct {
	calls  int
	detect func(i int) ([]region.Candidate, error)
}

func (d *fakeDetector) Detect(ctx context.Context, f frame.Frame) ([]region.Candidate, error) {
	i := d.calls
	d.calls++
	return d.detect(i)
}

// spatialEngine paints masked pixels white
type spatialEngine struct {
	order  frame.ChannelOrder
	failAt int
	hook   func(call int)
	calls  int
	masks  [][]byte
	seen   [][3]byte
}

func (e *spatialEngine) Name() string                     { return "fake-spatial" }
func (e *spatialEngine) ChannelOrder() frame.ChannelOrder { return e.order }

func (e *spatialEngine) Clean(ctx context.Context, f frame.Frame, m *mask.Mask) (frame.Frame, error) {
	call := e.calls
	e.calls++
	if e.hook != nil {
		e.hook(call)
	}
	if e.failAt > 0 && call == e.failAt {
		return frame.Frame{}, errors.New("model crashed")
	}
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	e.masks = append(e.masks, append([]byte(nil), m.Pix...))
	e.seen = append(e.seen, pixel(f, 0, 0))
	out := f.Clone()
	for p, v := range m.Pix {
		if v == mask.On {
			out.Pix[p*3], out.Pix[p*3+1], out.Pix[p*3+2] = 255, 255, 255
		}
	}
	return out, nil
}

// temporalEngine sets masked pixels of call k to 60*(k+1)
type temporalEngine struct {
	order   frame.ChannelOrder
	fail    bool
	batches []int
	seen    [][3]byte
}

func (e *temporalEngine) Name() string                     { return "fake-temporal" }
func (e *temporalEngine) ChannelOrder() frame.ChannelOrder { return e.order }

func (e *temporalEngine) CleanBatch(ctx context.Context, frames []frame.Frame, masks []*mask.Mask) ([]frame.Frame, error) {
	call := len(e.batches)
	e.batches = append(e.batches, len(frames))
	if e.fail {
		return nil, errors.New("out of memory")
	}
	e.seen = append(e.seen, pixel(frames[0], 0, 0))
	v := byte(60 * (call + 1))
	out := make([]frame.Frame, len(frames))
	for j, f := range frames {
		out[j] = f.Clone()
		for p, m := range masks[j].Pix {
			if m == mask.On {
				out[j].Pix[p*3], out[j].Pix[p*3+1], out[j].Pix[p*3+2] = v, v, v
			}
		}
	}
	return out, nil
}

// nameOnly implements neither capability
type nameOnly struct{}

func (nameOnly) Name() string                     { return "nothing" }
func (nameOnly) ChannelOrder() frame.ChannelOrder { return frame.BGR }
