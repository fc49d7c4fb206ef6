package pipeline

import (
	"context"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
	"github.com/LdDl/unmark/media"
	"github.com/LdDl/unmark/region"
)

// Detector finds watermark candidates on a BGR frame
type Detector interface {
	Detect(ctx context.Context, f frame.Frame) ([]region.Candidate, error)
}

// Engine is an inpainting model. It must also implement SpatialEngine or TemporalEngine
type Engine interface {
	Name() string
	ChannelOrder() frame.ChannelOrder
}

// SpatialEngine cleans one frame at a time
type SpatialEngine interface {
	Engine
	Clean(ctx context.Context, f frame.Frame, m *mask.Mask) (frame.Frame, error)
}

// TemporalEngine cleans a run of consecutive frames and returns as many frames
type TemporalEngine interface {
	Engine
	CleanBatch(ctx context.Context, frames []frame.Frame, masks []*mask.Mask) ([]frame.Frame, error)
}

// FrameReader yields BGR frames in order, io.EOF after the last one
type FrameReader interface {
	Next() (frame.Frame, error)
	Close() error
}

// Encoder consumes BGR frames in order
type Encoder interface {
	Write(f frame.Frame) error
	// Close finishes the file
	Close() error
	// Abort stops without finishing the file
	Abort()
}

// Media decodes and encodes files
type Media interface {
	Inspect(ctx context.Context, path string) (media.Info, error)
	Frames(ctx context.Context, path string, width, height int) (FrameReader, error)
	NewEncoder(ctx context.Context, path string, info media.Info) (Encoder, error)
	MuxAudio(ctx context.Context, video, source, out string, hasAudio bool) error
	ReadImage(path string) (frame.Frame, error)
	WriteImage(path string, f frame.Frame) error
}

// ffmpegMedia adapts *media.FFmpeg to Media
type ffmpegMedia struct {
	*media.FFmpeg
}

// NewFFmpegMedia wraps ffmpeg backend
func NewFFmpegMedia(m *media.FFmpeg) Media {
	return ffmpegMedia{FFmpeg: m}
}

func (m ffmpegMedia) Frames(ctx context.Context, path string, width, height int) (FrameReader, error) {
	r, err := m.FFmpeg.Frames(ctx, path, width, height)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m ffmpegMedia) NewEncoder(ctx context.Context, path string, info media.Info) (Encoder, error) {
	e, err := m.FFmpeg.NewEncoder(ctx, path, info)
	if err != nil {
		return nil, err
	}
	return e, nil
}
