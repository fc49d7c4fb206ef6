package trajectory

import (
	"math"

	"github.com/pkg/errors"

	"github.com/LdDl/unmark/region"
)

var (
	// ErrBadBoundaries is returned for a boundary set which is not [0, ..., N] strictly increasing
	ErrBadBoundaries = errors.New("invalid segment boundaries")
)

// ValidateBoundaries checks the boundary set invariant against total frames
func ValidateBoundaries(boundaries []int, total int) error {
	if len(boundaries) < 2 {
		return errors.Wrapf(ErrBadBoundaries, "need at least 2 boundaries, got %d", len(boundaries))
	}
	if boundaries[0] != 0 {
		return errors.Wrapf(ErrBadBoundaries, "first boundary must be 0, got %d", boundaries[0])
	}
	if boundaries[len(boundaries)-1] != total {
		return errors.Wrapf(ErrBadBoundaries, "last boundary must be %d, got %d", total, boundaries[len(boundaries)-1])
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return errors.Wrapf(ErrBadBoundaries, "boundaries not strictly increasing at %d", i)
		}
	}
	return nil
}

// Impute fills undetected frames of every interval with the interval's mean region.
// Intervals without any detection fall back to the raw detection of the previous
// frame, then of the next frame, and never look farther. Detected frames are kept as is.
func Impute(boundaries []int, detections region.Assignment) (region.Assignment, error) {
	total := detections.Len()
	if err := ValidateBoundaries(boundaries, total); err != nil {
		return region.Assignment{}, err
	}
	result := detections.Clone()
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		mean, ok := meanRegion(detections, start, end)
		for f := start; f < end; f++ {
			if detections.Has(f) {
				continue
			}
			if ok {
				result.Set(f, mean)
				continue
			}
			if prev, found := detections.Primary(f - 1); found {
				result.Set(f, prev)
			} else if next, found := detections.Primary(f + 1); found {
				result.Set(f, next)
			}
		}
	}
	return result, nil
}

// meanRegion averages each coordinate of the primary regions over [start, end)
func meanRegion(detections region.Assignment, start, end int) (region.Region, bool) {
	var x1, y1, x2, y2 float64
	n := 0
	for f := start; f < end; f++ {
		r, ok := detections.Primary(f)
		if !ok {
			continue
		}
		x1 += float64(r.X1)
		y1 += float64(r.Y1)
		x2 += float64(r.X2)
		y2 += float64(r.Y2)
		n++
	}
	if n == 0 {
		return region.Region{}, false
	}
	k := float64(n)
	return region.Region{
		X1: int(math.Round(x1 / k)),
		Y1: int(math.Round(y1 / k)),
		X2: int(math.Round(x2 / k)),
		Y2: int(math.Round(y2 / k)),
	}, true
}

// Complete runs segmentation on the detections' trajectory and imputes every gap.
// It returns the dense assignment together with the boundary set it used.
func Complete(sg *Segmenter, detections region.Assignment) (region.Assignment, []int, error) {
	boundaries, err := sg.Segment(region.Trajectory(detections))
	if err != nil {
		return region.Assignment{}, nil, errors.Wrap(err, "can't segment trajectory")
	}
	filled, err := Impute(boundaries, detections)
	if err != nil {
		return region.Assignment{}, nil, errors.Wrap(err, "can't impute regions")
	}
	return filled, boundaries, nil
}
