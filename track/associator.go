// Package track links per-frame watermark candidates into tracks and picks the
// dominant one for every frame.
//
// Association follows ByteTrack: high confidence candidates are matched to
// Kalman-predicted track boxes first, then remaining tracks get a second chance
// with low confidence candidates. Matching is done by IoU with either the
// Hungarian algorithm or a greedy pass.
package track

import (
	"github.com/arthurkushman/go-hungarian"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/unmark/region"
)

// MatchingAlgorithm is for algorithm type for matching candidates to tracks
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment
	MatchingAlgorithmHungarian MatchingAlgorithm = iota
	// MatchingAlgorithmGreedy uses a greedy algorithm for faster but potentially suboptimal assignment
	MatchingAlgorithmGreedy
)

// Options configures association
type Options struct {
	// Maximum number of frames a track can be missing before it is removed
	MaxDisappeared int `yaml:"max_disappeared"`
	// Minimum IoU between predicted track box and candidate to be considered the same
	MinIoU float64 `yaml:"min_iou"`
	// High candidate confidence threshold. Only such candidates may start tracks
	HighThresh float64 `yaml:"high_thresh"`
	// Low candidate confidence threshold. Weaker candidates are ignored
	LowThresh float64 `yaml:"low_thresh"`
	// Minimum number of matched frames for a track to be used
	MinHits int `yaml:"min_hits"`
	// Algorithm to use for matching
	Algorithm MatchingAlgorithm `yaml:"algorithm"`
}

// DefaultOptions returns association parameters tuned for static overlays
func DefaultOptions() Options {
	return Options{
		MaxDisappeared: 30,
		MinIoU:         0.3,
		HighThresh:     0.5,
		LowThresh:      0.1,
		MinHits:        3,
		Algorithm:      MatchingAlgorithmHungarian,
	}
}

// observation is a candidate attached to a track on some frame
type observation struct {
	trackID   uuid.UUID
	candidate region.Candidate
	order     int
}

// Associator accumulates candidates frame by frame.
// Not safe for concurrent use.
type Associator struct {
	opts   Options
	tracks map[uuid.UUID]*Track
	hits   map[uuid.UUID]int
	frames [][]observation
	logger logrus.FieldLogger
}

// NewAssociator creates a new instance of Associator with specified parameters.
func NewAssociator(opts Options, logger logrus.FieldLogger) *Associator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Associator{
		opts:   opts,
		tracks: make(map[uuid.UUID]*Track),
		hits:   make(map[uuid.UUID]int),
		frames: make([][]observation, 0),
		logger: logger,
	}
}

// NewAssociatorDefault creates an Associator with default parameters.
func NewAssociatorDefault() *Associator {
	return NewAssociator(DefaultOptions(), nil)
}

// Frames returns number of observed frames
func (a *Associator) Frames() int {
	return len(a.frames)
}

// ActiveTracks returns tracks which are still alive
func (a *Associator) ActiveTracks() []*Track {
	active := make([]*Track, 0, len(a.tracks))
	for _, t := range a.tracks {
		if t.NoMatchTimes() < a.opts.MaxDisappeared {
			active = append(active, t)
		}
	}
	return active
}

// trackPair is a helper struct to pair track ID with its predicted box.
type trackPair struct {
	ID   uuid.UUID
	BBox region.Rectangle
}

// Observe consumes candidates of the next frame. Pass nil for a frame without detections.
func (a *Associator) Observe(candidates []region.Candidate) {
	observed := make([]observation, 0, len(candidates))
	rects := make([]region.Rectangle, len(candidates))
	for i, c := range candidates {
		rects[i] = c.Region.Rect()
	}

	// Predict next positions for all existing tracks via Kalman filter
	for _, t := range a.tracks {
		t.PredictNextPosition()
	}

	active := make([]trackPair, 0, len(a.tracks))
	for id, t := range a.tracks {
		if t.NoMatchTimes() < a.opts.MaxDisappeared {
			active = append(active, trackPair{ID: id, BBox: t.PredictedBBox()})
		}
	}

	matchedTracks := make(map[uuid.UUID]struct{})
	matchedCandidates := make(map[int]struct{})

	// 1. First stage: high confidence candidates
	high := make([]int, 0)
	for i, c := range candidates {
		if c.Region.Valid() && c.Confidence >= a.opts.HighThresh {
			high = append(high, i)
		}
	}
	if len(active) > 0 && len(high) > 0 {
		iouMatrix := createIoUMatrix(active, high, rects)
		matches := a.performMatching(iouMatrix, active, high)
		a.processMatches(matches, active, high, iouMatrix, candidates, matchedTracks, matchedCandidates, &observed)
	}

	// 2. Second stage: low confidence candidates with remaining tracks
	unmatched := make([]trackPair, 0)
	for _, p := range active {
		if _, found := matchedTracks[p.ID]; !found {
			unmatched = append(unmatched, p)
		}
	}
	low := make([]int, 0)
	for i, c := range candidates {
		if _, found := matchedCandidates[i]; found {
			continue
		}
		if c.Region.Valid() && c.Confidence < a.opts.HighThresh && c.Confidence >= a.opts.LowThresh {
			low = append(low, i)
		}
	}
	if len(unmatched) > 0 && len(low) > 0 {
		iouMatrix := createIoUMatrix(unmatched, low, rects)
		matches := a.performMatching(iouMatrix, unmatched, low)
		a.processMatches(matches, unmatched, low, iouMatrix, candidates, matchedTracks, matchedCandidates, &observed)
	}

	// 3. New tracks for unmatched high confidence candidates
	for _, idx := range high {
		if _, found := matchedCandidates[idx]; found {
			continue
		}
		t := NewTrack(rects[idx])
		a.tracks[t.ID()] = t
		a.hits[t.ID()] = 1
		matchedTracks[t.ID()] = struct{}{}
		observed = append(observed, observation{trackID: t.ID(), candidate: candidates[idx], order: idx})
	}

	// 4. Age unmatched tracks and drop the ones gone for too long
	for id, t := range a.tracks {
		if _, found := matchedTracks[id]; !found {
			t.IncNoMatch()
		}
		if t.NoMatchTimes() >= a.opts.MaxDisappeared {
			delete(a.tracks, id)
		}
	}

	a.frames = append(a.frames, observed)
}

// Primary returns the dominant candidate region for every observed frame.
//
// On each frame the candidate belonging to the track with most hits wins;
// ties go to higher confidence and then to the earlier candidate. Tracks with
// fewer than MinHits matches only lose against established tracks on the same
// frame: when a frame has nothing but short-lived candidates the best of them
// is kept, so sparse detections still reach imputation. Regions are the raw
// candidate boxes, not filtered estimates.
func (a *Associator) Primary() region.Assignment {
	assignment := region.NewAssignment(len(a.frames))
	for i, observed := range a.frames {
		best, established := -1, false
		for j, o := range observed {
			ok := a.hits[o.trackID] >= a.opts.MinHits
			switch {
			case best < 0, ok && !established:
				best, established = j, ok
			case ok == established && better(o, observed[best], a.hits):
				best = j
			}
		}
		if best >= 0 {
			assignment.Set(i, observed[best].candidate.Region)
		}
	}
	return assignment
}

func better(o, than observation, hits map[uuid.UUID]int) bool {
	if hits[o.trackID] != hits[than.trackID] {
		return hits[o.trackID] > hits[than.trackID]
	}
	if o.candidate.Confidence != than.candidate.Confidence {
		return o.candidate.Confidence > than.candidate.Confidence
	}
	return o.order < than.order
}

// createIoUMatrix is helper function to create IoU matrix: rows = tracks, columns = candidates
func createIoUMatrix(tracks []trackPair, indices []int, rects []region.Rectangle) [][]float64 {
	iouMatrix := make([][]float64, len(tracks))
	for i, trk := range tracks {
		row := make([]float64, len(indices))
		for j, idx := range indices {
			row[j] = region.IoU(trk.BBox, rects[idx])
		}
		iouMatrix[i] = row
	}
	return iouMatrix
}

// performMatching returns pairs of {trackIndexInStage, candidateIndexInStage}
func (a *Associator) performMatching(iouMatrix [][]float64, tracks []trackPair, indices []int) [][2]int {
	switch a.opts.Algorithm {
	case MatchingAlgorithmHungarian:
		return a.performHungarianMatching(iouMatrix, tracks, indices)
	default:
		return a.performGreedyMatching(iouMatrix, tracks, indices)
	}
}

func (a *Associator) performHungarianMatching(iouMatrix [][]float64, tracks []trackPair, indices []int) [][2]int {
	numTracks := len(tracks)
	numCandidates := len(indices)
	if numTracks == 0 || numCandidates == 0 {
		return [][2]int{}
	}
	paddedMatrix := iouMatrix
	if numTracks != numCandidates {
		// Rectangular matrix - pad with zero IoU to make it square
		paddedSize := numTracks
		if numCandidates > paddedSize {
			paddedSize = numCandidates
		}
		paddedMatrix = make([][]float64, paddedSize)
		for i := 0; i < paddedSize; i++ {
			paddedMatrix[i] = make([]float64, paddedSize)
		}
		for i := 0; i < numTracks; i++ {
			copy(paddedMatrix[i], iouMatrix[i])
		}
	}
	assignmentsMap := hungarian.SolveMax(paddedMatrix)
	matches := make([][2]int, 0, numTracks)
	for trackIndex, rowMap := range assignmentsMap {
		for candidateIndex := range rowMap {
			if trackIndex < numTracks && candidateIndex < numCandidates {
				matches = append(matches, [2]int{trackIndex, candidateIndex})
			} else if trackIndex >= len(paddedMatrix) || candidateIndex >= len(paddedMatrix) {
				a.logger.WithFields(logrus.Fields{
					"track":     trackIndex,
					"candidate": candidateIndex,
				}).Warn("Hungarian assignment out of bounds")
			}
			break
		}
	}
	return matches
}

func (a *Associator) performGreedyMatching(iouMatrix [][]float64, tracks []trackPair, indices []int) [][2]int {
	matches := make([][2]int, 0)
	taken := make(map[int]struct{})
	for i := range tracks {
		bestIoU := -1.0
		best := -1
		for j := range indices {
			if _, found := taken[j]; found {
				continue
			}
			if iouMatrix[i][j] > bestIoU && iouMatrix[i][j] >= a.opts.MinIoU {
				bestIoU = iouMatrix[i][j]
				best = j
			}
		}
		if best != -1 {
			matches = append(matches, [2]int{i, best})
			taken[best] = struct{}{}
		}
	}
	return matches
}

// processMatches updates tracks for matches passing MinIoU and records observations.
// A candidate the filter can't absorb is still attached to its track.
func (a *Associator) processMatches(
	matches [][2]int,
	tracks []trackPair,
	indices []int,
	iouMatrix [][]float64,
	candidates []region.Candidate,
	matchedTracks map[uuid.UUID]struct{},
	matchedCandidates map[int]struct{},
	observed *[]observation,
) {
	for _, m := range matches {
		if iouMatrix[m[0]][m[1]] < a.opts.MinIoU {
			continue
		}
		trackID := tracks[m[0]].ID
		idx := indices[m[1]]
		t, ok := a.tracks[trackID]
		if !ok {
			continue
		}
		if err := t.Update(candidates[idx].Region.Rect()); err != nil {
			a.logger.WithField("track", trackID).WithError(err).Warn("Can't update track filter")
		}
		a.hits[trackID]++
		matchedTracks[trackID] = struct{}{}
		matchedCandidates[idx] = struct{}{}
		*observed = append(*observed, observation{trackID: trackID, candidate: candidates[idx], order: idx})
	}
}
