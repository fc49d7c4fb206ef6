// Package segment plans overlapping processing windows for temporally-aware
// inpainting engines and stitches their independently cleaned outputs back
// into one continuous frame stream.
package segment

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/LdDl/unmark/trajectory"
)

// Segment is a half-open processing range [Start, End) built around the core
// interval [CoreStart, CoreEnd). Every frame index belongs to exactly one core.
type Segment struct {
	Start     int
	End       int
	CoreStart int
	CoreEnd   int
}

// Len returns number of frames sent to the engine
func (s Segment) Len() int {
	return s.End - s.Start
}

// CoreLen returns number of frames owned by the segment
func (s Segment) CoreLen() int {
	return s.CoreEnd - s.CoreStart
}

func (s Segment) String() string {
	return fmt.Sprintf("[%d,%d) core [%d,%d)", s.Start, s.End, s.CoreStart, s.CoreEnd)
}

// Plan builds processing segments from a boundary set.
//
// Cores longer than maxCore (when maxCore > 0) are first split evenly. At each
// internal boundary the two neighbouring segments extend over each other by
// max(1, round(overlapRatio*min(left core, right core))) frames, limited to half
// of either core so that no frame is covered by more than two segments.
// overlapRatio <= 0 disables overlap.
func Plan(boundaries []int, overlapRatio float64, maxCore int) ([]Segment, error) {
	if len(boundaries) < 2 {
		return nil, errors.Wrap(trajectory.ErrBadBoundaries, "need at least one interval")
	}
	total := boundaries[len(boundaries)-1]
	if err := trajectory.ValidateBoundaries(boundaries, total); err != nil {
		return nil, err
	}
	cores := splitCores(boundaries, maxCore)

	n := len(cores) - 1
	// overlaps[i] is overlap at internal boundary cores[i], i in [1, n)
	overlaps := make([]int, len(cores))
	for i := 1; i < n; i++ {
		left := cores[i] - cores[i-1]
		right := cores[i+1] - cores[i]
		overlaps[i] = overlapAt(left, right, overlapRatio)
	}

	segments := make([]Segment, n)
	for i := 0; i < n; i++ {
		segments[i] = Segment{
			Start:     cores[i] - overlaps[i],
			End:       cores[i+1] + overlaps[i+1],
			CoreStart: cores[i],
			CoreEnd:   cores[i+1],
		}
	}
	return segments, nil
}

func overlapAt(left, right int, ratio float64) int {
	if ratio <= 0 {
		return 0
	}
	shortest := left
	if right < shortest {
		shortest = right
	}
	ov := int(math.Round(ratio * float64(shortest)))
	if ov < 1 {
		ov = 1
	}
	if ov > shortest/2 {
		ov = shortest / 2
	}
	return ov
}

// splitCores refines boundaries so no interval exceeds maxCore frames
func splitCores(boundaries []int, maxCore int) []int {
	if maxCore <= 0 {
		return append([]int(nil), boundaries...)
	}
	cores := []int{boundaries[0]}
	for i := 1; i < len(boundaries); i++ {
		start, end := boundaries[i-1], boundaries[i]
		length := end - start
		parts := (length + maxCore - 1) / maxCore
		base, extra := length/parts, length%parts
		pos := start
		for p := 0; p < parts; p++ {
			size := base
			if p < extra {
				size++
			}
			pos += size
			cores = append(cores, pos)
		}
	}
	return cores
}

// MaxCoreFrames derives the engine working-set bound: chunkRatio of the clip
// length, raised to minFrames and capped at maxFrames (when positive).
// Zero ratio means unlimited unless maxFrames is set.
func MaxCoreFrames(total int, chunkRatio float64, minFrames, maxFrames int) int {
	if total <= 0 {
		return 0
	}
	n := 0
	if chunkRatio > 0 {
		n = int(math.Ceil(chunkRatio * float64(total)))
		if n < minFrames {
			n = minFrames
		}
	}
	if maxFrames > 0 && (n == 0 || n > maxFrames) {
		n = maxFrames
	}
	return n
}
