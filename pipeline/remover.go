// Package pipeline removes watermarks from videos and still images.
//
// A run decodes the source once to find the watermark on every frame, fills
// undetected frames from the trajectory, then decodes it again and streams
// cleaned frames to the encoder in order. Per-frame engines see one frame at
// a time; temporal engines see overlapping segments whose seams are blended.
package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/unmark/frame"
	"github.com/LdDl/unmark/mask"
	"github.com/LdDl/unmark/media"
	"github.com/LdDl/unmark/region"
	"github.com/LdDl/unmark/track"
	"github.com/LdDl/unmark/trajectory"
)

// DefaultProgressEvery is the number of frames between cancellation checkpoints
const DefaultProgressEvery = 10

// ProgressFunc receives percent in [0, 100]. Returning false stops the run
type ProgressFunc func(percent int) bool

// RunOptions are per run parameters
type RunOptions struct {
	// Progress may be nil
	Progress ProgressFunc
	// Manual regions are applied to every frame instead of detection
	Manual []region.Region
}

// Options configure a Remover
type Options struct {
	Logger logrus.FieldLogger
	// Dilate is the elliptic kernel applied to masks, zero disables.
	// AutoDilate picks mask.DefaultKernel for per-frame engines and no
	// dilation for temporal ones, which grow masks themselves.
	Dilate int
	// OverlapRatio of neighbouring segments for temporal engines
	OverlapRatio float64
	// ChunkRatio bounds segment cores to this share of the clip, zero disables
	ChunkRatio float64
	// MinChunk is the smallest core allowed by ChunkRatio
	MinChunk int
	// MaxCoreFrames is an absolute bound on segment cores, zero disables
	MaxCoreFrames int
	// ProgressEvery frames the progress callback and context are polled
	ProgressEvery int
	Segmenter     *trajectory.Segmenter
	Association   track.Options
	// OnState is called synchronously on every state change
	OnState func(State)
}

// AutoDilate lets New choose mask dilation from the engine capability
const AutoDilate = -1

// DefaultOptions are suitable for any engine
func DefaultOptions() Options {
	return Options{
		Dilate:        AutoDilate,
		ProgressEvery: DefaultProgressEvery,
		Segmenter:     trajectory.NewSegmenterDefault(),
		Association:   track.DefaultOptions(),
	}
}

// cleaner is the engine capability chosen once per Remover
type cleaner interface {
	clean(r *run, reader FrameReader) error
	cleanImage(r *run, f frame.Frame, m *mask.Mask) (frame.Frame, error)
}

// Remover runs one video or image at a time
type Remover struct {
	detector Detector
	engine   Engine
	media    Media
	cleaner  cleaner
	masks    mask.Builder
	opts     Options

	mu    sync.Mutex
	state State
}

// New binds collaborators. The engine must implement SpatialEngine or
// TemporalEngine; a temporal implementation wins when both are present.
// detector may be nil when every run is manual.
func New(detector Detector, eng Engine, m Media, opts Options) (*Remover, error) {
	if eng == nil {
		return nil, errors.New("no inpainting engine")
	}
	if m == nil {
		return nil, errors.New("no media backend")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Segmenter == nil {
		opts.Segmenter = trajectory.NewSegmenterDefault()
	}
	if opts.Dilate < 0 && opts.Dilate != AutoDilate {
		return nil, errors.Errorf("negative dilation kernel %d", opts.Dilate)
	}
	rm := &Remover{
		detector: detector,
		engine:   eng,
		media:    m,
	}
	switch e := eng.(type) {
	case TemporalEngine:
		rm.cleaner = &temporalCleaner{engine: e}
		if opts.Dilate == AutoDilate {
			opts.Dilate = 0
		}
	case SpatialEngine:
		rm.cleaner = &spatialCleaner{engine: e}
		if opts.Dilate == AutoDilate {
			opts.Dilate = mask.DefaultKernel
		}
	default:
		return nil, errors.Errorf("engine '%s' can clean neither frames nor segments", eng.Name())
	}
	rm.masks = mask.Builder{Dilate: opts.Dilate}
	rm.opts = opts
	return rm, nil
}

// State returns current state
func (rm *Remover) State() State {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.state
}

func (rm *Remover) setState(s State) {
	rm.mu.Lock()
	rm.state = s
	rm.mu.Unlock()
	if rm.opts.OnState != nil {
		rm.opts.OnState(s)
	}
}

func (rm *Remover) begin(ctx context.Context, input string, opts RunOptions) (*run, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.state.Active() {
		return nil, errors.Errorf("remover is busy (%s)", rm.state)
	}
	id := uuid.NewString()
	return &run{
		ctx:      ctx,
		rm:       rm,
		input:    input,
		manual:   opts.Manual,
		progress: opts.Progress,
		every:    rm.opts.ProgressEvery,
		logger: rm.opts.Logger.WithFields(logrus.Fields{
			"run":    id,
			"input":  input,
			"engine": rm.engine.Name(),
		}),
	}, nil
}

func (rm *Remover) finish(r *run, err error) {
	switch {
	case err == nil:
		rm.setState(Done)
		r.logger.Info("Run finished")
	case KindOf(err) == CancellationRequested:
		rm.setState(Cancelled)
		r.logger.Warn("Run cancelled")
	default:
		r.logger.WithError(err).Error("Run failed")
	}
	rm.setState(Ready)
}

// RunVideo removes the watermark from input and writes the result with the
// source audio to output. On any failure output is left untouched.
func (rm *Remover) RunVideo(ctx context.Context, input, output string, opts RunOptions) (err error) {
	r, err := rm.begin(ctx, input, opts)
	if err != nil {
		return err
	}
	defer func() { rm.finish(r, err) }()

	rm.setState(Detecting)
	if err := r.checkpoint(10); err != nil {
		return err
	}
	info, err := rm.media.Inspect(ctx, input)
	if err != nil {
		return r.fail(InputError, "inspect", err)
	}
	r.info = info
	r.logger.WithFields(logrus.Fields{
		"width":  info.Width,
		"height": info.Height,
		"fps":    info.FPS,
		"frames": info.Frames,
		"audio":  info.HasAudio,
	}).Info("Video opened")

	if err := rm.detect(r); err != nil {
		return err
	}

	rm.setState(Imputing)
	if err := rm.impute(r); err != nil {
		return err
	}

	rm.setState(Cleaning)
	ws, err := NewWorkspace(output)
	if err != nil {
		return r.fail(OutputIOFailure, "workspace", err)
	}
	defer ws.Release()
	videoPath := ws.Path("video", ".mp4")
	muxPath := ws.Path("mux", filepath.Ext(output))

	encInfo := info
	encInfo.Frames = r.total
	encoder, err := rm.media.NewEncoder(ctx, videoPath, encInfo)
	if err != nil {
		return r.fail(OutputIOFailure, "encoder", err)
	}
	r.encoder = encoder
	defer func() {
		if err != nil {
			encoder.Abort()
		}
	}()

	reader, err := rm.media.Frames(ctx, input, info.Width, info.Height)
	if err != nil {
		return r.fail(InputError, "decode", err)
	}
	defer reader.Close()
	if err := rm.cleaner.clean(r, reader); err != nil {
		return err
	}
	if r.written != r.total {
		return r.fail(OutputIOFailure, "encode", errors.Errorf("wrote %d of %d frames", r.written, r.total))
	}

	rm.setState(Finalizing)
	r.report(95)
	if err := encoder.Close(); err != nil {
		return r.fail(OutputIOFailure, "encode", err)
	}
	if err := rm.media.MuxAudio(ctx, videoPath, input, muxPath, info.HasAudio); err != nil {
		return r.fail(OutputIOFailure, "mux", err)
	}
	if err := ws.Commit(muxPath, output); err != nil {
		return r.fail(OutputIOFailure, "commit", err)
	}
	r.report(100)
	r.logger.WithFields(logrus.Fields{"output": output, "frames": r.written}).Info("Video saved")
	return nil
}

// detect decodes every frame once, collecting candidates in auto mode and the frame count in both modes
func (rm *Remover) detect(r *run) error {
	if len(r.manual) == 0 && rm.detector == nil {
		return r.fail(InputError, "detect", errors.New("no detector and no manual regions"))
	}
	if len(r.manual) > 0 {
		regions := clampRegions(r.manual, r.info.Width, r.info.Height)
		if len(regions) == 0 {
			return r.fail(InputError, "manual", errors.Errorf("regions %v are outside of %dx%d frame", r.manual, r.info.Width, r.info.Height))
		}
		r.manual = regions
		r.logger.WithField("regions", regions).Info("Using manual regions")
	}

	reader, err := rm.media.Frames(r.ctx, r.input, r.info.Width, r.info.Height)
	if err != nil {
		return r.fail(InputError, "decode", err)
	}
	defer reader.Close()

	assoc := track.NewAssociator(rm.opts.Association, r.logger)
	failures := 0
	n := 0
	for {
		if n%r.every == 0 {
			if err := r.checkpoint(scale(10, 50, n, r.info.Frames)); err != nil {
				return err
			}
		}
		f, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return r.fail(InputError, "decode", errors.Wrapf(err, "frame %d", n))
		}
		if len(r.manual) == 0 {
			candidates, ok := rm.detectFrame(r, n, f)
			if !ok {
				failures++
			}
			assoc.Observe(candidates)
		}
		n++
	}
	if n == 0 {
		return r.fail(InputError, "decode", errors.New("no frames decoded"))
	}
	r.total = n
	r.assoc = assoc
	r.logger.WithFields(logrus.Fields{"frames": n, "detection_failures": failures}).Info("Detection finished")
	return r.checkpoint(50)
}

// detectFrame absorbs detector errors as a frame without candidates
func (rm *Remover) detectFrame(r *run, index int, f frame.Frame) ([]region.Candidate, bool) {
	candidates, err := rm.detector.Detect(r.ctx, f)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"frame": index,
			"kind":  DetectionFailure.String(),
		}).WithError(err).Warn("Detection failed")
		return nil, false
	}
	valid := candidates[:0:0]
	for _, c := range candidates {
		c.Region = c.Region.Clamp(f.Width, f.Height)
		if c.Region.Valid() {
			valid = append(valid, c)
		}
	}
	return valid, true
}

// impute builds the dense assignment and the boundaries segments are planned from
func (rm *Remover) impute(r *run) error {
	if err := r.checkpoint(50); err != nil {
		return err
	}
	if len(r.manual) > 0 {
		r.assignment = region.Fixed(r.total, r.manual)
		r.boundaries = []int{0, r.total}
		return nil
	}
	primary := r.assoc.Primary()
	assignment, boundaries, err := trajectory.Complete(rm.opts.Segmenter, primary)
	if err != nil {
		return r.fail(InputError, "impute", err)
	}
	r.assignment = assignment
	r.boundaries = boundaries
	r.logger.WithFields(logrus.Fields{
		"detected":  primary.Detected(),
		"covered":   assignment.Detected(),
		"intervals": len(boundaries) - 1,
	}).Info("Trajectory completed")
	if assignment.Detected() == 0 {
		r.logger.Warn("No watermark detected, frames pass through unchanged")
	}
	return nil
}

// RunImage removes the watermark from a still image. When nothing is
// detected the image is saved unchanged.
func (rm *Remover) RunImage(ctx context.Context, input, output string, opts RunOptions) (err error) {
	r, err := rm.begin(ctx, input, opts)
	if err != nil {
		return err
	}
	defer func() { rm.finish(r, err) }()
	if !media.CanWriteImage(output) {
		return r.fail(InputError, "output", errors.Wrapf(media.ErrUnsupportedFormat, "'%s'", filepath.Ext(output)))
	}

	rm.setState(Detecting)
	if err := r.checkpoint(10); err != nil {
		return err
	}
	img, err := rm.media.ReadImage(input)
	if err != nil {
		return r.fail(InputError, "read", err)
	}
	r.logger.WithFields(logrus.Fields{"width": img.Width, "height": img.Height}).Debug("Image opened")

	var regions []region.Region
	if len(r.manual) > 0 {
		regions = clampRegions(r.manual, img.Width, img.Height)
		if len(regions) == 0 {
			return r.fail(InputError, "manual", errors.Errorf("regions %v are outside of %dx%d image", r.manual, img.Width, img.Height))
		}
		r.logger.WithField("regions", regions).Info("Using manual regions")
		if err := r.checkpoint(30); err != nil {
			return err
		}
	} else {
		if rm.detector == nil {
			return r.fail(InputError, "detect", errors.New("no detector and no manual regions"))
		}
		if err := r.checkpoint(20); err != nil {
			return err
		}
		candidates, _ := rm.detectFrame(r, 0, img)
		if best, ok := bestCandidate(candidates); ok {
			regions = []region.Region{best.Region}
			r.logger.WithField("region", best.Region).Info("Detected watermark")
		} else {
			r.logger.Warn("No watermark detected in image")
		}
		if err := r.checkpoint(40); err != nil {
			return err
		}
	}

	rm.setState(Imputing)
	cleaned := img
	if len(regions) > 0 {
		if err := r.checkpoint(50); err != nil {
			return err
		}
		m, err := rm.masks.Build(regions, img.Width, img.Height)
		if err != nil {
			return r.fail(EngineFailure, "mask", err)
		}
		if err := r.checkpoint(60); err != nil {
			return err
		}
		rm.setState(Cleaning)
		cleaned, err = rm.cleaner.cleanImage(r, img, m)
		if err != nil {
			return err
		}
	} else {
		rm.setState(Cleaning)
	}
	if err := r.checkpoint(90); err != nil {
		return err
	}

	rm.setState(Finalizing)
	ws, err := NewWorkspace(output)
	if err != nil {
		return r.fail(OutputIOFailure, "workspace", err)
	}
	defer ws.Release()
	tmp := ws.Path("image", filepath.Ext(output))
	if err := rm.media.WriteImage(tmp, cleaned); err != nil {
		return r.fail(OutputIOFailure, "write", err)
	}
	if err := ws.Commit(tmp, output); err != nil {
		return r.fail(OutputIOFailure, "commit", err)
	}
	r.report(100)
	r.logger.WithField("output", output).Info("Image saved")
	return nil
}

func bestCandidate(candidates []region.Candidate) (region.Candidate, bool) {
	best := -1
	for i, c := range candidates {
		if best < 0 || c.Confidence > candidates[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return region.Candidate{}, false
	}
	return candidates[best], true
}

func clampRegions(regions []region.Region, width, height int) []region.Region {
	out := make([]region.Region, 0, len(regions))
	for _, r := range regions {
		c := r.Clamp(width, height)
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// scale maps done/total into [lo, hi]
func scale(lo, hi, done, total int) int {
	if total <= 0 || done <= 0 {
		return lo
	}
	p := lo + (hi-lo)*done/total
	if p > hi {
		return hi
	}
	return p
}

// run is the state of a single RunVideo or RunImage call
type run struct {
	ctx      context.Context
	rm       *Remover
	logger   logrus.FieldLogger
	input    string
	manual   []region.Region
	progress ProgressFunc
	every    int
	percent  int

	info       media.Info
	total      int
	assoc      *track.Associator
	assignment region.Assignment
	boundaries []int
	encoder    Encoder
	written    int
}

// report passes monotonic progress to the callback
func (r *run) report(percent int) bool {
	if percent < r.percent {
		percent = r.percent
	}
	if percent > 100 {
		percent = 100
	}
	r.percent = percent
	if r.progress == nil {
		return true
	}
	return r.progress(percent)
}

// checkpoint reports progress and turns a stop request or a done context into cancellation
func (r *run) checkpoint(percent int) error {
	if err := r.ctx.Err(); err != nil {
		return newError(CancellationRequested, r.rm.State().String(), err)
	}
	if !r.report(percent) {
		return newError(CancellationRequested, r.rm.State().String(), ErrCancelled)
	}
	return nil
}

// fail classifies err, preferring cancellation when the context is done
func (r *run) fail(kind Kind, op string, err error) error {
	if ctxErr := r.ctx.Err(); ctxErr != nil && r.rm.State().cancellable() {
		return newError(CancellationRequested, op, ctxErr)
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return newError(kind, op, err)
}

// emit writes the next finalized frame, checking for cancellation first
func (r *run) emit(index int, f frame.Frame) error {
	if index != r.written {
		return newError(OutputIOFailure, "encode", errors.Errorf("frame %d emitted, expected %d", index, r.written))
	}
	if index%r.every == 0 {
		if err := r.checkpoint(scale(50, 95, index, r.total)); err != nil {
			return err
		}
	}
	if err := r.encoder.Write(f); err != nil {
		return r.fail(OutputIOFailure, "encode", errors.Wrapf(err, "frame %d", index))
	}
	r.written++
	return nil
}
