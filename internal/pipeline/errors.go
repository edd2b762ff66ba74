package pipeline

import "fmt"

// EmptySortingError reports that the curated sorting has no spike to
// analyze.
type EmptySortingError struct {
	Sorter string
	Units  int
	Err    error
}

func (e *EmptySortingError) Error() string {
	return fmt.Sprintf("sorter %s produced no spikes across %d units after curation; nothing to analyze", e.Sorter, e.Units)
}

func (e *EmptySortingError) Unwrap() error { return e.Err }

// StageError wraps the failure of one stage.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
