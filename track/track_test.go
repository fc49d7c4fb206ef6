package track

import (
	"math"
	"testing"

	"github.com/LdDl/unmark/region"
)

func TestTrackStaysOnStaticBox(t *testing.T) {
	box := region.NewRect(100, 50, 40, 20)
	trk := NewTrack(box)
	if trk.Hits() != 1 {
		t.Errorf("Expected 1 hit for a new track, got %d", trk.Hits())
	}
	for i := 0; i < 20; i++ {
		trk.PredictNextPosition()
		if err := trk.Update(box); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}
	got := trk.BBox().Center()
	want := box.Center()
	if math.Abs(got.X-want.X) > 0.5 || math.Abs(got.Y-want.Y) > 0.5 {
		t.Errorf("Expected center near %v, got %v", want, got)
	}
	if trk.Hits() != 21 {
		t.Errorf("Expected 21 hits, got %d", trk.Hits())
	}
	pred := trk.PredictedBBox().Center()
	if math.Abs(pred.X-want.X) > 0.5 || math.Abs(pred.Y-want.Y) > 0.5 {
		t.Errorf("Expected prediction near %v, got %v", want, pred)
	}
}

func TestTrackNoMatch(t *testing.T) {
	trk := NewTrack(region.NewRect(0, 0, 10, 10))
	trk.IncNoMatch()
	trk.IncNoMatch()
	if trk.NoMatchTimes() != 2 {
		t.Errorf("Expected 2 no match times, got %d", trk.NoMatchTimes())
	}
	trk.PredictNextPosition()
	if err := trk.Update(region.NewRect(0, 0, 10, 10)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if trk.NoMatchTimes() != 0 {
		t.Errorf("Update must reset no match times, got %d", trk.NoMatchTimes())
	}
}
