package track

import (
	"testing"

	"github.com/LdDl/unmark/region"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MinHits != 3 {
		t.Errorf("Expected default MinHits 3, got %d", opts.MinHits)
	}
	if opts.HighThresh <= opts.LowThresh {
		t.Errorf("High threshold %f must be above low threshold %f", opts.HighThresh, opts.LowThresh)
	}
}

func TestAssociatorPicksPersistentTrack(t *testing.T) {
	for _, algo := range []MatchingAlgorithm{MatchingAlgorithmHungarian, MatchingAlgorithmGreedy} {
		opts := DefaultOptions()
		opts.Algorithm = algo
		assoc := NewAssociator(opts, nil)

		logo := region.New(10, 10, 60, 40)
		for i := 0; i < 10; i++ {
			candidates := []region.Candidate{{Region: logo, Confidence: 0.7}}
			// one-off false positive with higher confidence
			if i == 4 {
				candidates = append(candidates, region.Candidate{Region: region.New(300, 200, 340, 230), Confidence: 0.95})
			}
			assoc.Observe(candidates)
		}
		if assoc.Frames() != 10 {
			t.Fatalf("Expected 10 observed frames, got %d", assoc.Frames())
		}
		primary := assoc.Primary()
		for i := 0; i < 10; i++ {
			r, ok := primary.Primary(i)
			if !ok {
				t.Fatalf("Algorithm %d: frame %d has no region", algo, i)
			}
			if r != logo {
				t.Errorf("Algorithm %d: frame %d expected %s, got %s", algo, i, logo, r)
			}
		}
	}
}

func TestAssociatorKeepsRawRegions(t *testing.T) {
	assoc := NewAssociatorDefault()
	boxes := []region.Region{
		region.New(100, 100, 150, 130),
		region.New(102, 101, 152, 131),
		region.New(101, 99, 151, 129),
		region.New(103, 100, 153, 130),
	}
	for _, b := range boxes {
		assoc.Observe([]region.Candidate{{Region: b, Confidence: 0.9}})
	}
	primary := assoc.Primary()
	for i, b := range boxes {
		r, ok := primary.Primary(i)
		if !ok || r != b {
			t.Errorf("Frame %d: expected raw box %s, got %s (present=%t)", i, b, r, ok)
		}
	}
	if len(assoc.ActiveTracks()) != 1 {
		t.Errorf("Expected single track, got %d", len(assoc.ActiveTracks()))
	}
}

func TestAssociatorMissingFrames(t *testing.T) {
	assoc := NewAssociatorDefault()
	logo := region.New(0, 0, 40, 20)
	frames := [][]region.Candidate{
		{{Region: logo, Confidence: 0.8}},
		nil,
		{{Region: logo, Confidence: 0.8}},
		{{Region: logo, Confidence: 0.2}},
		{},
		{{Region: logo, Confidence: 0.8}},
	}
	for _, c := range frames {
		assoc.Observe(c)
	}
	primary := assoc.Primary()
	expected := []bool{true, false, true, true, false, true}
	for i, want := range expected {
		if primary.Has(i) != want {
			t.Errorf("Frame %d: expected presence %t, got %t", i, want, primary.Has(i))
		}
	}
}

func TestAssociatorIgnoresWeakCandidates(t *testing.T) {
	assoc := NewAssociatorDefault()
	for i := 0; i < 5; i++ {
		// low confidence never starts a track
		assoc.Observe([]region.Candidate{{Region: region.New(5, 5, 25, 25), Confidence: 0.3}})
	}
	if n := assoc.Primary().Detected(); n != 0 {
		t.Errorf("Expected no detections, got %d", n)
	}
}

func TestAssociatorShortClip(t *testing.T) {
	assoc := NewAssociatorDefault()
	logo := region.New(10, 10, 30, 30)
	assoc.Observe([]region.Candidate{{Region: logo, Confidence: 0.9}})
	r, ok := assoc.Primary().Primary(0)
	if !ok || r != logo {
		t.Errorf("Single frame clip must keep its detection, got %s (present=%t)", r, ok)
	}
}

func TestAssociatorDropsStaleTracks(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDisappeared = 2
	assoc := NewAssociator(opts, nil)
	assoc.Observe([]region.Candidate{{Region: region.New(0, 0, 10, 10), Confidence: 0.9}})
	for i := 0; i < 2; i++ {
		assoc.Observe(nil)
	}
	if len(assoc.ActiveTracks()) != 0 {
		t.Errorf("Expected track to be removed, got %d active", len(assoc.ActiveTracks()))
	}
}

func TestAssociatorKeepsSparseDetection(t *testing.T) {
	assoc := NewAssociatorDefault()
	logo := region.New(20, 10, 60, 30)
	for i := 0; i < 10; i++ {
		if i == 5 {
			assoc.Observe([]region.Candidate{{Region: logo, Confidence: 0.9}})
			continue
		}
		assoc.Observe(nil)
	}
	primary := assoc.Primary()
	for i := 0; i < 10; i++ {
		r, ok := primary.Primary(i)
		if i == 5 {
			if !ok || r != logo {
				t.Errorf("Lone detection must survive, got %s (present=%t)", r, ok)
			}
			continue
		}
		if ok {
			t.Errorf("Frame %d: expected no region, got %s", i, r)
		}
	}
}

func TestAssociatorShortLivedCompetitors(t *testing.T) {
	assoc := NewAssociatorDefault()
	weak := region.New(0, 0, 20, 20)
	strong := region.New(200, 100, 240, 120)
	assoc.Observe(nil)
	assoc.Observe([]region.Candidate{
		{Region: weak, Confidence: 0.6},
		{Region: strong, Confidence: 0.9},
	})
	assoc.Observe(nil)
	r, ok := assoc.Primary().Primary(1)
	if !ok || r != strong {
		t.Errorf("Expected most confident candidate %s, got %s (present=%t)", strong, r, ok)
	}
}
