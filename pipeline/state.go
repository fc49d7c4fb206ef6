package pipeline

// State is the stage a Remover is in
type State uint16

const (
	Ready State = iota
	Detecting
	Imputing
	Cleaning
	Finalizing
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Detecting:
		return "detecting"
	case Imputing:
		return "imputing"
	case Cleaning:
		return "cleaning"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Active reports whether a run is in progress
func (s State) Active() bool {
	return s != Ready && s != Done && s != Cancelled
}

// cancellable reports whether a run in this state may still be cancelled
func (s State) cancellable() bool {
	return s == Detecting || s == Imputing || s == Cleaning
}
