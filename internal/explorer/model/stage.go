package model

// Stage is the position of a session in the research pipeline.
type Stage string

const (
	StageProcessing      Stage = "processing"
	StageGettingInfo     Stage = "getting_info"
	StageGeneratingImage Stage = "generating_image"
	StageCompleted       Stage = "completed"
	StageInvalidAnimal   Stage = "invalid_animal"
	StageError           Stage = "error"
	// StageReloadRequired is reported to pollers whose session was lost by a
	// non-durable store. It is never stored.
	StageReloadRequired Stage = "reload_required"
)

var transitions = map[Stage][]Stage{
	StageProcessing:      {StageGettingInfo, StageError},
	StageGettingInfo:     {StageGeneratingImage, StageInvalidAnimal, StageError},
	StageGeneratingImage: {StageCompleted, StageError},
}

// IsTerminal reports whether no further transition is possible from s.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageInvalidAnimal, StageError, StageReloadRequired:
		return true
	}
	return false
}

// CanAdvance reports whether from → to is an edge of the pipeline.
func CanAdvance(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Stage) String() string { return string(s) }
