package segment

import (
	"github.com/pkg/errors"

	"github.com/LdDl/unmark/frame"
)

var (
	// ErrSegmentOrder is returned when segments are pushed out of plan order
	ErrSegmentOrder = errors.New("segment pushed out of order")
	// ErrFrameCount is returned when a cleaned batch does not match its segment length
	ErrFrameCount = errors.New("cleaned batch length does not match segment")
	// ErrBadPlan is returned for a plan which does not tile [0, total)
	ErrBadPlan = errors.New("segments do not tile the clip")
)

// Emit receives a finalized frame. Indices arrive strictly ascending, each exactly once.
type Emit func(index int, f frame.Frame) error

// Blender merges cleaned batches of consecutive overlapping segments.
//
// Frames inside the overlap of segment k and k+1 are crossfaded linearly: the
// j-th of L overlapped frames takes weight (j+1)/(L+1) from segment k+1 and the
// rest from segment k. Every other frame is emitted verbatim. The blender only
// keeps the overlap tail of the last pushed segment.
type Blender struct {
	plan      []Segment
	pushed    int
	next      int
	tail      []frame.Frame
	tailStart int
}

// NewBlender validates the plan and creates blender
func NewBlender(plan []Segment) (*Blender, error) {
	if len(plan) == 0 {
		return nil, errors.Wrap(ErrBadPlan, "empty plan")
	}
	if plan[0].CoreStart != 0 || plan[0].Start != 0 {
		return nil, errors.Wrap(ErrBadPlan, "first segment must start at 0")
	}
	for i, s := range plan {
		if s.Start > s.CoreStart || s.CoreStart >= s.CoreEnd || s.CoreEnd > s.End {
			return nil, errors.Wrapf(ErrBadPlan, "segment %d %s", i, s)
		}
		if i == 0 {
			continue
		}
		prev := plan[i-1]
		if prev.CoreEnd != s.CoreStart {
			return nil, errors.Wrapf(ErrBadPlan, "gap between segment %d and %d", i-1, i)
		}
		// overlap must be symmetric around the shared boundary
		if prev.End-s.CoreStart != s.CoreStart-s.Start {
			return nil, errors.Wrapf(ErrBadPlan, "asymmetric overlap at %d", s.CoreStart)
		}
		if s.Start < prev.CoreStart || (i > 1 && s.Start < plan[i-2].End) {
			return nil, errors.Wrapf(ErrBadPlan, "segment %d reaches beyond its neighbour", i)
		}
	}
	last := plan[len(plan)-1]
	if last.End != last.CoreEnd {
		return nil, errors.Wrap(ErrBadPlan, "last segment can't extend beyond the clip")
	}
	return &Blender{plan: plan}, nil
}

// Total returns number of frames in the clip
func (b *Blender) Total() int {
	return b.plan[len(b.plan)-1].CoreEnd
}

// Next returns index of the next frame to be emitted
func (b *Blender) Next() int {
	return b.next
}

// Pending returns number of frames held back for blending
func (b *Blender) Pending() int {
	return len(b.tail)
}

// Done reports whether every frame has been emitted
func (b *Blender) Done() bool {
	return b.pushed == len(b.plan) && b.next == b.Total()
}

// Push consumes cleaned frames of segment k, which must be the next one in the plan,
// and emits every frame that can no longer change.
func (b *Blender) Push(k int, frames []frame.Frame, emit Emit) error {
	if k != b.pushed || k >= len(b.plan) {
		return errors.Wrapf(ErrSegmentOrder, "expected segment %d, got %d", b.pushed, k)
	}
	seg := b.plan[k]
	if len(frames) != seg.Len() {
		return errors.Wrapf(ErrFrameCount, "segment %d %s: got %d frames", k, seg, len(frames))
	}
	if seg.Start != b.next || (len(b.tail) > 0 && b.tailStart != seg.Start) {
		return errors.Wrapf(ErrSegmentOrder, "segment %d starts at %d, expected %d", k, seg.Start, b.next)
	}

	overlap := len(b.tail)
	for j := 0; j < overlap; j++ {
		w := float64(j+1) / float64(overlap+1)
		blended, err := frame.Blend(b.tail[j], frames[j], w)
		if err != nil {
			return errors.Wrapf(err, "can't blend frame %d", seg.Start+j)
		}
		if err := emit(seg.Start+j, blended); err != nil {
			return err
		}
	}
	b.tail = nil

	holdFrom := seg.End
	if k+1 < len(b.plan) {
		holdFrom = b.plan[k+1].Start
	}
	for idx := seg.Start + overlap; idx < holdFrom; idx++ {
		if err := emit(idx, frames[idx-seg.Start]); err != nil {
			return err
		}
	}
	if holdFrom < seg.End {
		b.tail = append([]frame.Frame(nil), frames[holdFrom-seg.Start:]...)
	}
	b.tailStart = holdFrom
	b.next = holdFrom
	b.pushed++
	return nil
}
