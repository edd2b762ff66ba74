// Package curation cleans sorter output before analysis.
package curation

import (
	"fmt"
	"math"

	"github.com/banshee-data/spikesort/internal/sorting"
)

// Duplicate resolution methods.
const (
	KeepFirst = "keep_first"
	KeepLast  = "keep_last"
)

// DefaultCensoredPeriodMs is the window within which two spikes of the same
// unit count as one.
const DefaultCensoredPeriodMs = 0.3

// RemoveDuplicatedSpikes returns a copy of s in which, per unit, spikes
// within the censored period of a kept spike are dropped. KeepFirst scans
// forward in time, KeepLast backward.
func RemoveDuplicatedSpikes(s *sorting.Sorting, censoredPeriodMs float64, method string) (*sorting.Sorting, error) {
	if censoredPeriodMs < 0 {
		return nil, fmt.Errorf("censored period must be >= 0, got %v", censoredPeriodMs)
	}
	if method == "" {
		method = KeepFirst
	}
	if method != KeepFirst && method != KeepLast {
		return nil, fmt.Errorf("unknown duplicate method %q", method)
	}
	censored := int(math.Round(censoredPeriodMs * s.SamplingFrequency / 1000))

	out := &sorting.Sorting{SamplingFrequency: s.SamplingFrequency, Units: make([]sorting.Unit, len(s.Units))}
	for i, u := range s.Units {
		var frames []int
		if method == KeepFirst {
			frames = keepFirst(u.SpikeFrames, censored)
		} else {
			frames = keepLast(u.SpikeFrames, censored)
		}
		out.Units[i] = sorting.Unit{ID: u.ID, SpikeFrames: frames}
	}
	return out, nil
}

func keepFirst(frames []int, censored int) []int {
	out := make([]int, 0, len(frames))
	for _, f := range frames {
		if len(out) > 0 && f-out[len(out)-1] <= censored {
			continue
		}
		out = append(out, f)
	}
	return out
}

func keepLast(frames []int, censored int) []int {
	rev := make([]int, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if len(rev) > 0 && rev[len(rev)-1]-f <= censored {
			continue
		}
		rev = append(rev, f)
	}
	out := make([]int, len(rev))
	for i, f := range rev {
		out[len(rev)-1-i] = f
	}
	return out
}

// Deduplicator applies RemoveDuplicatedSpikes with fixed settings.
type Deduplicator struct {
	CensoredPeriodMs float64
	Method           string
}

// NewDeduplicator returns a Deduplicator with the default settings.
func NewDeduplicator() Deduplicator {
	return Deduplicator{CensoredPeriodMs: DefaultCensoredPeriodMs, Method: KeepFirst}
}

// Deduplicate removes duplicated spikes from s.
func (d Deduplicator) Deduplicate(s *sorting.Sorting) (*sorting.Sorting, error) {
	return RemoveDuplicatedSpikes(s, d.CensoredPeriodMs, d.Method)
}
