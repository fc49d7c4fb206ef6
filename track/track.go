package track

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/LdDl/unmark/region"
)

// Track is a watermark candidate followed over frames with an 8-D Kalman filter.
// State vector: [cx, cy, w, h, vx, vy, vw, vh] - center position, size, and velocities.
type Track struct {
	id            uuid.UUID
	currentBBox   region.Rectangle
	predictedBBox region.Rectangle
	noMatchTimes  int
	hits          int
	tracker       *kalman_filter.KalmanBBox
}

// NewTrackWithTime creates a new Track with specified time step.
func NewTrackWithTime(currentBbox region.Rectangle, dt float64) *Track {
	center := currentBbox.Center()

	// Watermarks barely move, so keep control input at zero and trust measurements
	uCx := 0.0
	uCy := 0.0
	uW := 0.0
	uH := 0.0
	stdDevA := 1.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, currentBbox.Width, currentBbox.Height),
	)

	t := Track{
		id:            uuid.New(),
		currentBBox:   currentBbox,
		predictedBBox: currentBbox,
		noMatchTimes:  0,
		hits:          1,
		tracker:       kf,
	}
	return &t
}

// NewTrack creates a new Track with default time step of 1.0 (one frame).
func NewTrack(currentBbox region.Rectangle) *Track {
	return NewTrackWithTime(currentBbox, 1.0)
}

// ID returns track's identifier
func (t *Track) ID() uuid.UUID {
	return t.id
}

// BBox returns track's current (filtered) bounding box
func (t *Track) BBox() region.Rectangle {
	return t.currentBBox
}

// PredictedBBox returns predicted bounding box from Kalman filter
func (t *Track) PredictedBBox() region.Rectangle {
	return t.predictedBBox
}

// Hits returns number of frames the track was matched on
func (t *Track) Hits() int {
	return t.hits
}

// NoMatchTimes returns number of consecutive frames without a match
func (t *Track) NoMatchTimes() int {
	return t.noMatchTimes
}

// IncNoMatch increases track's no match times
func (t *Track) IncNoMatch() {
	t.noMatchTimes++
}

// PredictNextPosition executes Kalman filter prediction step
func (t *Track) PredictNextPosition() {
	t.tracker.Predict()
	cx, cy, w, h := t.tracker.GetState()
	t.predictedBBox = region.Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
}

// Update corrects the filter with a measured bounding box
func (t *Track) Update(measured region.Rectangle) error {
	center := measured.Center()
	err := t.tracker.Update(center.X, center.Y, measured.Width, measured.Height)
	if err != nil {
		return errors.Wrap(err, "Can't update track filter")
	}

	cx, cy, w, h := t.tracker.GetState()
	t.currentBBox = region.Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
	t.noMatchTimes = 0
	t.hits++
	return nil
}
