package pipeline

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
	"github.com/LdDl/unmark/segment"
)

// temporalCleaner sends overlapping segments to the engine and blends the seams.
// Only the current segment and the frames shared with the next one are held in memory.
type temporalCleaner struct {
	engine TemporalEngine
}

func (c *temporalCleaner) clean(r *run, reader FrameReader) error {
	opts := r.rm.opts
	maxCore := segment.MaxCoreFrames(r.total, opts.ChunkRatio, opts.MinChunk, opts.MaxCoreFrames)
	plan, err := segment.Plan(r.boundaries, opts.OverlapRatio, maxCore)
	if err != nil {
		return r.fail(InputError, "plan", err)
	}
	blender, err := segment.NewBlender(plan)
	if err != nil {
		return r.fail(InputError, "plan", err)
	}
	r.logger.WithFields(logrus.Fields{"segments": len(plan), "max_core": maxCore}).Info("Segments planned")

	window := make([]frame.Frame, 0)
	base := 0
	for k, seg := range plan {
		if err := r.checkpoint(scale(50, 95, seg.Start, r.total)); err != nil {
			return err
		}
		for base+len(window) < seg.End {
			f, err := reader.Next()
			if err == io.EOF {
				return r.fail(InputError, "decode", errors.Errorf("source ended at frame %d of %d", base+len(window), r.total))
			}
			if err != nil {
				return r.fail(InputError, "decode", errors.Wrapf(err, "frame %d", base+len(window)))
			}
			window = append(window, f)
		}
		batch := window[seg.Start-base : seg.End-base]
		cleaned, err := c.cleanSegment(r, seg, batch)
		if err != nil {
			return r.fail(EngineFailure, "clean", errors.Wrapf(err, "segment %d %s", k, seg))
		}
		if err := blender.Push(k, cleaned, r.emit); err != nil {
			return r.fail(EngineFailure, "blend", err)
		}
		r.logger.WithFields(logrus.Fields{"segment": k, "frames": seg.Len()}).Debug("Segment cleaned")

		keepFrom := seg.End
		if k+1 < len(plan) {
			keepFrom = plan[k+1].Start
		}
		window = append(make([]frame.Frame, 0, seg.End-keepFrom), window[keepFrom-base:]...)
		base = keepFrom
	}
	if !blender.Done() {
		return r.fail(OutputIOFailure, "blend", errors.Errorf("%d of %d frames emitted", blender.Next(), blender.Total()))
	}
	return nil
}

// cleanSegment masks a batch of frames starting at seg.Start. Batches without
// any masked pixel skip the engine.
func (c *temporalCleaner) cleanSegment(r *run, seg segment.Segment, batch []frame.Frame) ([]frame.Frame, error) {
	masks := make([]*mask.Mask, len(batch))
	empty := true
	for j, f := range batch {
		m, err := r.rm.masks.Build(r.assignment.At(seg.Start+j), f.Width, f.Height)
		if err != nil {
			return nil, errors.Wrapf(err, "mask of frame %d", seg.Start+j)
		}
		masks[j] = m
		if !m.Empty() {
			empty = false
		}
	}
	if empty {
		return batch, nil
	}
	return c.cleanBatch(r, batch, masks)
}

func (c *temporalCleaner) cleanBatch(r *run, batch []frame.Frame, masks []*mask.Mask) ([]frame.Frame, error) {
	order := c.engine.ChannelOrder()
	in := make([]frame.Frame, len(batch))
	for j, f := range batch {
		converted, err := frame.Convert(f, frame.BGR, order)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", j)
		}
		in[j] = converted
	}
	out, err := c.engine.CleanBatch(r.ctx, in, masks)
	if err != nil {
		return nil, err
	}
	if len(out) != len(batch) {
		return nil, errors.Errorf("engine returned %d frames for %d", len(out), len(batch))
	}
	for j := range out {
		if !out[j].SameSize(batch[j]) {
			return nil, errors.Wrapf(frame.ErrSizeMismatch, "frame %d", j)
		}
		converted, err := frame.Convert(out[j], order, frame.BGR)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", j)
		}
		out[j] = converted
	}
	return out, nil
}

func (c *temporalCleaner) cleanImage(r *run, f frame.Frame, m *mask.Mask) (frame.Frame, error) {
	if m.Empty() {
		return f, nil
	}
	out, err := c.cleanBatch(r, []frame.Frame{f}, []*mask.Mask{m})
	if err != nil {
		return frame.Frame{}, r.fail(EngineFailure, "clean", err)
	}
	return out[0], nil
}
