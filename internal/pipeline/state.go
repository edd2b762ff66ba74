package pipeline

import (
	"fmt"
	"time"

	"github.com/banshee-data/spikesort/internal/analyzer"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/sorting"
)

// State is the last stage a run completed.
type State int

const (
	Configured State = iota
	ArtifactsInjected
	Preprocessed
	Sorted
	Deduplicated
	Analyzed
	Complete
)

var stateNames = [...]string{
	Configured:        "configured",
	ArtifactsInjected: "artifacts_injected",
	Preprocessed:      "preprocessed",
	Sorted:            "sorted",
	Deduplicated:      "deduplicated",
	Analyzed:          "analyzed",
	Complete:          "complete",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// StageTiming records how long the transition into State took.
type StageTiming struct {
	State    State
	Duration time.Duration
}

// Run is the state of one pipeline pass. Each transition sets the fields
// belonging to the state it reaches; fields of later states stay zero when
// the run fails.
type Run struct {
	ID         string
	Folder     string
	Sorter     *sorting.BackendConfig
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
	Stages     []StageTiming

	// Triggers are the trigger times (seconds) the run started from.
	Triggers []float64

	// ArtifactsInjected
	Protocol *protocol.Protocol

	// Preprocessed
	Processed recording.Stream

	// Sorted
	SorterFolder string
	RawSorting   *sorting.Sorting

	// Deduplicated
	Curated *sorting.Sorting

	// Analyzed
	AnalyzerFolder string
	Analysis       *analyzer.Analyzer
}

// NumUnits is the number of curated units, or zero before deduplication.
func (r *Run) NumUnits() int {
	if r.Curated == nil {
		return 0
	}
	return len(r.Curated.Units)
}

// NumSpikes is the number of curated spikes, or zero before deduplication.
func (r *Run) NumSpikes() int {
	if r.Curated == nil {
		return 0
	}
	return r.Curated.NumSpikes()
}

// Duration is the wall time from start to finish.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
