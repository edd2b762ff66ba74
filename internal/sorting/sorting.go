// Package sorting holds sorter output (units and their spike trains), the
// sorter backends that produce it, and the per-run sorter configuration.
package sorting

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

// FileName is the sorter output document inside a sorter folder.
const FileName = "sorting.json"

// Unit is one sorted neuron. SpikeFrames are ascending sample indices on the
// concatenated recording timeline.
type Unit struct {
	ID          string `json:"id"`
	SpikeFrames []int  `json:"spike_frames"`
}

// Sorting is the result of one sorter run.
type Sorting struct {
	SamplingFrequency float64 `json:"sampling_frequency"`
	Units             []Unit  `json:"units"`
}

// NumSpikes counts spikes across all units.
func (s *Sorting) NumSpikes() int {
	n := 0
	for _, u := range s.Units {
		n += len(u.SpikeFrames)
	}
	return n
}

// UnitIDs lists unit ids in order.
func (s *Sorting) UnitIDs() []string {
	ids := make([]string, len(s.Units))
	for i, u := range s.Units {
		ids[i] = u.ID
	}
	return ids
}

// Clone deep-copies s.
func (s *Sorting) Clone() *Sorting {
	out := &Sorting{SamplingFrequency: s.SamplingFrequency, Units: make([]Unit, len(s.Units))}
	for i, u := range s.Units {
		out.Units[i] = Unit{ID: u.ID, SpikeFrames: append([]int(nil), u.SpikeFrames...)}
	}
	return out
}

// Validate checks the invariants relied on downstream.
func (s *Sorting) Validate() error {
	if s.SamplingFrequency <= 0 {
		return fmt.Errorf("sampling frequency must be positive, got %v", s.SamplingFrequency)
	}
	seen := make(map[string]bool, len(s.Units))
	for _, u := range s.Units {
		if seen[u.ID] {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		seen[u.ID] = true
		if !sort.IntsAreSorted(u.SpikeFrames) {
			return fmt.Errorf("unit %q spike frames are not sorted", u.ID)
		}
		if len(u.SpikeFrames) > 0 && u.SpikeFrames[0] < 0 {
			return fmt.Errorf("unit %q has negative spike frame %d", u.ID, u.SpikeFrames[0])
		}
	}
	return nil
}

// Save writes s as sorting.json in dir.
func (s *Sorting) Save(fsys fsutil.FileSystem, dir string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileIn(fsys, filepath.Join(dir, FileName), b)
}

// Load reads sorting.json from dir. Unit spike frames are sorted if the
// producer left them unordered.
func Load(fsys fsutil.FileSystem, dir string) (*Sorting, error) {
	b, err := fsys.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("read sorting: %w", err)
	}
	var s Sorting
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	if s.Units == nil {
		s.Units = []Unit{}
	}
	for i := range s.Units {
		sort.Ints(s.Units[i].SpikeFrames)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
