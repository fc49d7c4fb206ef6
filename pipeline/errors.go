package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies terminal failures of a run
type Kind uint16

const (
	// KindUnknown is reported for errors not produced by a Remover
	KindUnknown Kind = iota
	// InputError means the source video or image is missing or corrupt
	InputError
	// DetectionFailure is a per-frame detector error. It is absorbed and never returned by a run
	DetectionFailure
	// EngineFailure means the inpainting engine failed
	EngineFailure
	// CancellationRequested means the caller stopped the run
	CancellationRequested
	// OutputIOFailure means encoding, muxing or writing the output failed
	OutputIOFailure
)

func (k Kind) String() string {
	switch k {
	case InputError:
		return "input error"
	case DetectionFailure:
		return "detection failure"
	case EngineFailure:
		return "engine failure"
	case CancellationRequested:
		return "cancellation requested"
	case OutputIOFailure:
		return "output io failure"
	default:
		return "unknown"
	}
}

// ErrCancelled is the cause of a run stopped by its progress callback
var ErrCancelled = errors.New("run cancelled")

// Error is a terminal failure of a run
type Error struct {
	Kind Kind
	// Op is the stage that failed, e.g. "inspect" or "encode"
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause keeps compatibility with errors.Cause
func (e *Error) Cause() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
