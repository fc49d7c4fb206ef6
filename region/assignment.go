package region

// Assignment maps every frame index in [0, Len()) to the regions that have to be
// cleaned on that frame. A nil entry means "none": the frame passes through.
type Assignment struct {
	frames [][]Region
}

// NewAssignment creates an assignment of n frames with no regions
func NewAssignment(n int) Assignment {
	if n < 0 {
		n = 0
	}
	return Assignment{frames: make([][]Region, n)}
}

// Fixed assigns the same regions to each of n frames (manual override).
func Fixed(n int, regions []Region) Assignment {
	a := NewAssignment(n)
	if len(regions) == 0 {
		return a
	}
	for i := range a.frames {
		a.frames[i] = append([]Region(nil), regions...)
	}
	return a
}

// Len returns number of frames
func (a Assignment) Len() int {
	return len(a.frames)
}

// At returns regions of frame i. Be careful: this is not a copy.
func (a Assignment) At(i int) []Region {
	if i < 0 || i >= len(a.frames) {
		return nil
	}
	return a.frames[i]
}

// Has reports whether frame i carries at least one region
func (a Assignment) Has(i int) bool {
	return len(a.At(i)) > 0
}

// Primary returns the first region of frame i
func (a Assignment) Primary(i int) (Region, bool) {
	regions := a.At(i)
	if len(regions) == 0 {
		return Region{}, false
	}
	return regions[0], true
}

// Set replaces regions of frame i. Calling Set without regions clears the frame.
func (a Assignment) Set(i int, regions ...Region) {
	if i < 0 || i >= len(a.frames) {
		return
	}
	if len(regions) == 0 {
		a.frames[i] = nil
		return
	}
	a.frames[i] = append([]Region(nil), regions...)
}

// Detected returns number of frames carrying regions
func (a Assignment) Detected() int {
	n := 0
	for i := range a.frames {
		if len(a.frames[i]) > 0 {
			n++
		}
	}
	return n
}

// Clone returns deep copy
func (a Assignment) Clone() Assignment {
	c := NewAssignment(a.Len())
	for i, regions := range a.frames {
		if len(regions) > 0 {
			c.frames[i] = append([]Region(nil), regions...)
		}
	}
	return c
}

// Equal compares two assignments frame by frame
func (a Assignment) Equal(other Assignment) bool {
	if a.Len() != other.Len() {
		return false
	}
	for i := range a.frames {
		if len(a.frames[i]) != len(other.frames[i]) {
			return false
		}
		for j := range a.frames[i] {
			if a.frames[i][j] != other.frames[i][j] {
				return false
			}
		}
	}
	return true
}

// TrajectoryPoint is the per-frame center of the primary region,
// or a missing point when nothing was detected on the frame.
type TrajectoryPoint struct {
	Center  Point
	Present bool
}

// Trajectory derives the center series used for change point detection
func Trajectory(a Assignment) []TrajectoryPoint {
	points := make([]TrajectoryPoint, a.Len())
	for i := range points {
		if r, ok := a.Primary(i); ok {
			points[i] = TrajectoryPoint{Center: r.Center(), Present: true}
		}
	}
	return points
}
