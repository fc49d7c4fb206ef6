// Package region holds the value types shared by every stage of the watermark
// pipeline: pixel regions, scored detector candidates, dense per-frame
// assignments and the trajectory points derived from them.
package region

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Region is an axis-aligned pixel rectangle. X2 and Y2 are exclusive.
type Region struct {
	X1 int `json:"x1" yaml:"x1" msgpack:"x1"`
	Y1 int `json:"y1" yaml:"y1" msgpack:"y1"`
	X2 int `json:"x2" yaml:"x2" msgpack:"x2"`
	Y2 int `json:"y2" yaml:"y2" msgpack:"y2"`
}

// New creates region from corner coordinates
func New(x1, y1, x2, y2 int) Region {
	return Region{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Valid reports whether the region has positive area
func (r Region) Valid() bool {
	return r.X1 < r.X2 && r.Y1 < r.Y2
}

// Width returns horizontal size
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height returns vertical size
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// Clamp limits the region to [0,width]x[0,height]. The result may be invalid
// when the region lies completely outside of the frame.
func (r Region) Clamp(width, height int) Region {
	return Region{
		X1: clampInt(r.X1, 0, width),
		Y1: clampInt(r.Y1, 0, height),
		X2: clampInt(r.X2, 0, width),
		Y2: clampInt(r.Y2, 0, height),
	}
}

// Center returns the middle of the region
func (r Region) Center() Point {
	return Point{
		X: float64(r.X1+r.X2) / 2.0,
		Y: float64(r.Y1+r.Y2) / 2.0,
	}
}

// Rect converts the region to float geometry
func (r Region) Rect() Rectangle {
	return Rectangle{
		X:      float64(r.X1),
		Y:      float64(r.Y1),
		Width:  float64(r.Width()),
		Height: float64(r.Height()),
	}
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// ParseRegions parses "x1,y1,x2,y2" groups separated by ';'.
func ParseRegions(s string) ([]Region, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	groups := strings.Split(s, ";")
	regions := make([]Region, 0, len(groups))
	for _, group := range groups {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		parts := strings.Split(group, ",")
		if len(parts) != 4 {
			return nil, errors.Errorf("region %q: expected 4 comma separated values", group)
		}
		var coords [4]int
		for i, part := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, errors.Wrapf(err, "region %q", group)
			}
			coords[i] = v
		}
		r := New(coords[0], coords[1], coords[2], coords[3])
		if !r.Valid() {
			return nil, errors.Errorf("region %q: need x1<x2 and y1<y2", group)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// Candidate is one scored region returned by a detector for a single frame.
type Candidate struct {
	Region     Region
	Confidence float64
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
