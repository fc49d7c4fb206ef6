package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
)

// Config selects a model and the socket its service listens on
type Config struct {
	Type    Type          `yaml:"type"`
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
}

// Inpainter is what every engine client exposes regardless of its capability
type Inpainter interface {
	Name() string
	ChannelOrder() frame.ChannelOrder
	Profile() Profile
}

// New creates a *Spatial or *Temporal client depending on the model
func New(cfg Config) (Inpainter, error) {
	profile, err := ProfileFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.Socket == "" {
		return nil, errors.Errorf("no socket configured for engine '%s'", cfg.Type)
	}
	if profile.Temporal {
		return NewTemporal(cfg.Socket, cfg.Timeout, profile), nil
	}
	return NewSpatial(cfg.Socket, cfg.Timeout, profile), nil
}

// frameMessage is a packed image on the wire
type frameMessage struct {
	Height int    `msgpack:"h"`
	Width  int    `msgpack:"w"`
	Data   []byte `msgpack:"d"`
}

type spatialRequest struct {
	Frame frameMessage `msgpack:"frame"`
	Mask  []byte       `msgpack:"mask"` // single channel, 255 = inpaint
}

type spatialResponse struct {
	Frame frameMessage `msgpack:"frame"`
	Error string       `msgpack:"error"`
}

type temporalRequest struct {
	Frames []frameMessage `msgpack:"frames"`
	Masks  [][]byte       `msgpack:"masks"`
}

type temporalResponse struct {
	Frames []frameMessage `msgpack:"frames"`
	Error  string         `msgpack:"error"`
}

func toMessage(f frame.Frame) frameMessage {
	return frameMessage{Height: f.Height, Width: f.Width, Data: f.Pix}
}

func fromMessage(m frameMessage, width, height int) (frame.Frame, error) {
	f := frame.Frame{Width: m.Width, Height: m.Height, Pix: m.Data}
	if m.Width != width || m.Height != height || !f.Valid() {
		return frame.Frame{}, errors.Wrapf(ErrMalformedResponse, "expected %dx%d frame, got %dx%d with %d bytes", width, height, m.Width, m.Height, len(m.Data))
	}
	return f, nil
}

func maskBytes(m *mask.Mask, width, height int) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil mask")
	}
	if m.Width != width || m.Height != height {
		return nil, errors.Wrapf(frame.ErrSizeMismatch, "mask %dx%d, frame %dx%d", m.Width, m.Height, width, height)
	}
	return m.Pix, nil
}

// Spatial is a per-frame inpainting service client
type Spatial struct {
	conn    socket
	profile Profile
}

// NewSpatial creates client for a per-frame model
func NewSpatial(socketPath string, timeout time.Duration, profile Profile) *Spatial {
	return &Spatial{conn: newSocket(socketPath, timeout), profile: profile}
}

// Name returns model name
func (s *Spatial) Name() string {
	return string(s.profile.Type)
}

// ChannelOrder returns pixel order the model expects
func (s *Spatial) ChannelOrder() frame.ChannelOrder {
	return s.profile.ChannelOrder
}

// Profile returns processing parameters of the model
func (s *Spatial) Profile() Profile {
	return s.profile
}

// Clean inpaints masked pixels of a single frame
func (s *Spatial) Clean(ctx context.Context, f frame.Frame, m *mask.Mask) (frame.Frame, error) {
	mb, err := maskBytes(m, f.Width, f.Height)
	if err != nil {
		return frame.Frame{}, err
	}
	req := spatialRequest{Frame: toMessage(f), Mask: mb}
	var resp spatialResponse
	if err := s.conn.call(ctx, &req, &resp); err != nil {
		return frame.Frame{}, err
	}
	if err := remoteError(resp.Error); err != nil {
		return frame.Frame{}, err
	}
	return fromMessage(resp.Frame, f.Width, f.Height)
}

// Temporal is a segment inpainting service client
type Temporal struct {
	conn    socket
	profile Profile
}

// NewTemporal creates client for a video model
func NewTemporal(socketPath string, timeout time.Duration, profile Profile) *Temporal {
	return &Temporal{conn: newSocket(socketPath, timeout), profile: profile}
}

// Name returns model name
func (t *Temporal) Name() string {
	return string(t.profile.Type)
}

// ChannelOrder returns pixel order the model expects
func (t *Temporal) ChannelOrder() frame.ChannelOrder {
	return t.profile.ChannelOrder
}

// Profile returns processing parameters of the model
func (t *Temporal) Profile() Profile {
	return t.profile
}

// CleanBatch inpaints a run of consecutive frames, one mask per frame
func (t *Temporal) CleanBatch(ctx context.Context, frames []frame.Frame, masks []*mask.Mask) ([]frame.Frame, error) {
	if len(frames) != len(masks) {
		return nil, errors.Errorf("got %d frames and %d masks", len(frames), len(masks))
	}
	if len(frames) == 0 {
		return nil, nil
	}
	req := temporalRequest{
		Frames: make([]frameMessage, len(frames)),
		Masks:  make([][]byte, len(masks)),
	}
	for i, f := range frames {
		mb, err := maskBytes(masks[i], f.Width, f.Height)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
		req.Frames[i] = toMessage(f)
		req.Masks[i] = mb
	}
	var resp temporalResponse
	if err := t.conn.call(ctx, &req, &resp); err != nil {
		return nil, err
	}
	if err := remoteError(resp.Error); err != nil {
		return nil, err
	}
	if len(resp.Frames) != len(frames) {
		return nil, errors.Wrapf(ErrMalformedResponse, "sent %d frames, got %d", len(frames), len(resp.Frames))
	}
	cleaned := make([]frame.Frame, len(frames))
	for i, m := range resp.Frames {
		f, err := fromMessage(m, frames[i].Width, frames[i].Height)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
		cleaned[i] = f
	}
	return cleaned, nil
}
