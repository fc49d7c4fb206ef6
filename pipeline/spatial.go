package pipeline

import (
	"io"

	"github.com/pkg/errors"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
)

// spatialCleaner sends every frame with a non-empty mask to the engine on its own
type spatialCleaner struct {
	engine SpatialEngine
}

func (c *spatialCleaner) clean(r *run, reader FrameReader) error {
	for i := 0; i < r.total; i++ {
		f, err := reader.Next()
		if err == io.EOF {
			return r.fail(InputError, "decode", errors.Errorf("source ended at frame %d of %d", i, r.total))
		}
		if err != nil {
			return r.fail(InputError, "decode", errors.Wrapf(err, "frame %d", i))
		}
		regions := r.assignment.At(i)
		if len(regions) == 0 {
			if err := r.emit(i, f); err != nil {
				return err
			}
			continue
		}
		m, err := r.rm.masks.Build(regions, f.Width, f.Height)
		if err != nil {
			return r.fail(EngineFailure, "mask", errors.Wrapf(err, "frame %d", i))
		}
		cleaned, err := c.cleanFrame(r, f, m)
		if err != nil {
			return r.fail(EngineFailure, "clean", errors.Wrapf(err, "frame %d", i))
		}
		if err := r.emit(i, cleaned); err != nil {
			return err
		}
	}
	return nil
}

func (c *spatialCleaner) cleanImage(r *run, f frame.Frame, m *mask.Mask) (frame.Frame, error) {
	cleaned, err := c.cleanFrame(r, f, m)
	if err != nil {
		return frame.Frame{}, r.fail(EngineFailure, "clean", err)
	}
	return cleaned, nil
}

func (c *spatialCleaner) cleanFrame(r *run, f frame.Frame, m *mask.Mask) (frame.Frame, error) {
	if m.Empty() {
		return f, nil
	}
	order := c.engine.ChannelOrder()
	in, err := frame.Convert(f, frame.BGR, order)
	if err != nil {
		return frame.Frame{}, err
	}
	out, err := c.engine.Clean(r.ctx, in, m)
	if err != nil {
		return frame.Frame{}, err
	}
	if !out.SameSize(f) {
		return frame.Frame{}, errors.Wrapf(frame.ErrSizeMismatch, "engine returned %dx%d for %dx%d", out.Width, out.Height, f.Width, f.Height)
	}
	return frame.Convert(out, order, frame.BGR)
}
