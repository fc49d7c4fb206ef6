package region

import (
	"math"
	"testing"
)

const (
	eps = 0.00001
)

func TestIoU(t *testing.T) {
	cases := []struct {
		name string
		a, b Rectangle
		want float64
	}{
		{"identical", NewRect(0, 0, 10, 10), NewRect(0, 0, 10, 10), 1.0},
		{"disjoint", NewRect(0, 0, 10, 10), NewRect(20, 20, 5, 5), 0.0},
		{"touching", NewRect(0, 0, 10, 10), NewRect(10, 0, 10, 10), 0.0},
		// intersection 5x10=50, union 100+100-50=150
		{"half shifted", NewRect(0, 0, 10, 10), NewRect(5, 0, 10, 10), 50.0 / 150.0},
	}
	for _, tc := range cases {
		got := IoU(tc.a, tc.b)
		if math.Abs(got-tc.want) > eps {
			t.Errorf("%s: expected %f, got %f", tc.name, tc.want, got)
		}
	}
}

func TestRegionRect(t *testing.T) {
	r := New(3, 4, 13, 24).Rect()
	if r != NewRect(3, 4, 10, 20) {
		t.Errorf("Wrong rectangle: %+v", r)
	}
	c := r.Center()
	if c != NewPoint(8, 14) {
		t.Errorf("Wrong center: %+v", c)
	}
}
