package engine

import (
	"context"
	"math"
	"time"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/region"
)

// Detector is a watermark detection service client
type Detector struct {
	conn socket
}

// detection is a box from the detection service, top-left corner plus size
type detection struct {
	X          float32 `msgpack:"x"`
	Y          float32 `msgpack:"y"`
	Width      float32 `msgpack:"w"`
	Height     float32 `msgpack:"h"`
	Confidence float32 `msgpack:"c"`
}

type detectionResponse struct {
	Detections  []detection `msgpack:"detections"`
	InferenceMs float32     `msgpack:"inference_ms"`
	Error       string      `msgpack:"error"`
}

// NewDetector creates a new client for the detection service
func NewDetector(socketPath string, timeout time.Duration) *Detector {
	return &Detector{conn: newSocket(socketPath, timeout)}
}

// Detect sends a BGR frame to the service and returns scored candidates clamped to the frame
func (d *Detector) Detect(ctx context.Context, f frame.Frame) ([]region.Candidate, error) {
	req := toMessage(f)
	var resp detectionResponse
	if err := d.conn.call(ctx, &req, &resp); err != nil {
		return nil, err
	}
	if err := remoteError(resp.Error); err != nil {
		return nil, err
	}
	candidates := make([]region.Candidate, 0, len(resp.Detections))
	for _, det := range resp.Detections {
		x1 := int(math.Round(float64(det.X)))
		y1 := int(math.Round(float64(det.Y)))
		x2 := int(math.Round(float64(det.X + det.Width)))
		y2 := int(math.Round(float64(det.Y + det.Height)))
		r := region.New(x1, y1, x2, y2).Clamp(f.Width, f.Height)
		if !r.Valid() {
			continue
		}
		candidates = append(candidates, region.Candidate{Region: r, Confidence: float64(det.Confidence)})
	}
	return candidates, nil
}
