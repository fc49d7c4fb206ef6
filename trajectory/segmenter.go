// Package trajectory turns a sparse stream of per-frame watermark detections
// into a dense assignment.
//
// The watermark position is piecewise stable: it stays put for a while and
// then jumps (scene cuts, re-layout). Segmenter finds those jumps with an
// offline change point search over the center trajectory; Impute then fills
// undetected frames from the interval they belong to.
package trajectory

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/LdDl/unmark/region"
)

var (
	// ErrEmptyTrajectory is returned when there is no frame to segment
	ErrEmptyTrajectory = errors.New("trajectory has no frames")
)

const (
	// Default minimal interval length in frames
	DefaultMinSize = 2
	// jumpScale times the median successive difference separates jumps from jitter
	jumpScale = 4.0
	// minNoiseVariance keeps automatic penalty positive for perfectly static tracks
	minNoiseVariance = 1.0
	// dimensions of the center signal
	dimensions = 2
)

// Segmenter partitions a center trajectory into quasi-stationary intervals
// using PELT (pruned exact linear time) with an L2 cost.
type Segmenter struct {
	// Penalty added per interval. Zero means automatic (BIC-like, scaled by the estimated noise)
	Penalty float64
	// Minimal interval length in frames. Zero means DefaultMinSize
	MinSize int
}

// NewSegmenterDefault creates segmenter with automatic penalty
func NewSegmenterDefault() *Segmenter {
	return &Segmenter{
		Penalty: 0,
		MinSize: DefaultMinSize,
	}
}

// Segment returns the boundary set [0, b1, ..., len(points)].
// Missing points take no part in the cost but keep their frame index.
func (sg *Segmenter) Segment(points []region.TrajectoryPoint) ([]int, error) {
	n := len(points)
	if n == 0 {
		return nil, ErrEmptyTrajectory
	}
	minSize := sg.MinSize
	if minSize < 1 {
		minSize = DefaultMinSize
	}
	c := newCostL2(points)
	if c.present == 0 || n < 2*minSize {
		return []int{0, n}, nil
	}
	beta := sg.Penalty
	if beta <= 0 {
		beta = AutoPenalty(points)
	}

	// best[t] is optimal cost of partitioning [0, t); last[t] is start of its final interval
	best := make([]float64, n+1)
	last := make([]int, n+1)
	best[0] = -beta
	candidates := []int{0}
	for t := 1; t <= n; t++ {
		best[t] = math.Inf(1)
		for _, s := range candidates {
			if t-s < minSize {
				continue
			}
			v := best[s] + c.cost(s, t) + beta
			if v < best[t] {
				best[t] = v
				last[t] = s
			}
		}
		// Pruning: s can never be optimal again once best[s]+C(s,t) exceeds best[t]
		kept := make([]int, 0, len(candidates)+1)
		for _, s := range candidates {
			if t-s < minSize || best[s]+c.cost(s, t) <= best[t] {
				kept = append(kept, s)
			}
		}
		if !math.IsInf(best[t], 1) {
			kept = append(kept, t)
		}
		candidates = kept
	}

	boundaries := []int{n}
	for t := n; t > 0; {
		s := last[t]
		boundaries = append(boundaries, s)
		t = s
	}
	// reverse
	for i, j := 0, len(boundaries)-1; i < j; i, j = i+1, j-1 {
		boundaries[i], boundaries[j] = boundaries[j], boundaries[i]
	}
	return boundaries, nil
}

// AutoPenalty estimates a penalty of 2*d*sigma^2*ln(n) where sigma is the
// frame-to-frame jitter of the detected centers. Successive differences of
// white noise have variance 2*sigma^2; differences far above the median are
// jumps between positions and are left out.
func AutoPenalty(points []region.TrajectoryPoint) float64 {
	diffs := make([]float64, 0, 2*len(points))
	var prev *region.Point
	for i := range points {
		if !points[i].Present {
			continue
		}
		p := points[i].Center
		if prev != nil {
			diffs = append(diffs, math.Abs(p.X-prev.X), math.Abs(p.Y-prev.Y))
		}
		prev = &p
	}
	variance := minNoiseVariance
	if len(diffs) > 0 {
		sort.Float64s(diffs)
		limit := jumpScale * math.Max(stat.Quantile(0.5, stat.Empirical, diffs, nil), 1)
		squares := make([]float64, 0, len(diffs))
		for _, d := range diffs {
			if d > limit {
				break
			}
			squares = append(squares, d*d)
		}
		variance = math.Max(stat.Mean(squares, nil)/2, minNoiseVariance)
	}
	return 2 * dimensions * variance * math.Max(math.Log(float64(len(points))), 1)
}

// costL2 evaluates sum of squared deviations from interval mean in O(1)
// through prefix sums over the frame index space.
type costL2 struct {
	count, sx, sy, sxx, syy []float64
	present                 int
}

func newCostL2(points []region.TrajectoryPoint) *costL2 {
	n := len(points)
	count := make([]float64, n+1)
	sx := make([]float64, n+1)
	sy := make([]float64, n+1)
	sxx := make([]float64, n+1)
	syy := make([]float64, n+1)
	present := 0
	for i, p := range points {
		if !p.Present {
			continue
		}
		present++
		count[i+1] = 1
		sx[i+1] = p.Center.X
		sy[i+1] = p.Center.Y
		sxx[i+1] = p.Center.X * p.Center.X
		syy[i+1] = p.Center.Y * p.Center.Y
	}
	return &costL2{
		count:   floats.CumSum(count, count),
		sx:      floats.CumSum(sx, sx),
		sy:      floats.CumSum(sy, sy),
		sxx:     floats.CumSum(sxx, sxx),
		syy:     floats.CumSum(syy, syy),
		present: present,
	}
}

// cost of half-open interval [s, t)
func (c *costL2) cost(s, t int) float64 {
	k := c.count[t] - c.count[s]
	if k == 0 {
		return 0
	}
	x := c.sx[t] - c.sx[s]
	y := c.sy[t] - c.sy[s]
	v := (c.sxx[t] - c.sxx[s] - x*x/k) + (c.syy[t] - c.syy[s] - y*y/k)
	if v < 0 {
		// rounding noise on constant runs
		return 0
	}
	return v
}
