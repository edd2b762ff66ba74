// Package analyzer pairs a preprocessed recording with a curated sorting and
// computes the postprocessing extensions (waveforms, templates, locations,
// metrics) consumed by the report.
package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/sorting"
)

// ErrNothingToSample is returned by Create when the sorting holds no spike
// at all.
var ErrNothingToSample = errors.New("sorting has no spikes to sample")

// Analyzer holds the recording samples, the sorting and every computed
// extension. Results are also written to Folder.
type Analyzer struct {
	Folder  string
	Results Results

	fsys      fsutil.FileSystem
	rec       recording.Stream
	sorting   *sorting.Sorting
	fs        float64
	traces    [][]float32 // [channel][frame], segments concatenated
	locations [][2]float64
	computed  []string
}

// Create loads rec into memory and writes the recording and sorting
// descriptors to folder, which must already be empty or absent.
func Create(rec recording.Stream, s *sorting.Sorting, folder string, fsys fsutil.FileSystem) (*Analyzer, error) {
	if s.NumSpikes() == 0 {
		return nil, ErrNothingToSample
	}
	if s.SamplingFrequency != rec.SamplingFrequency() {
		return nil, fmt.Errorf("sorting at %v Hz does not match recording at %v Hz", s.SamplingFrequency, rec.SamplingFrequency())
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	traces := make([][]float32, rec.NumChannels())
	for c := range traces {
		x, err := recording.Channel(rec, c)
		if err != nil {
			return nil, fmt.Errorf("read channel %d: %w", c, err)
		}
		traces[c] = x
	}
	total := recording.TotalFrames(rec)
	for _, u := range s.Units {
		if n := len(u.SpikeFrames); n > 0 && u.SpikeFrames[n-1] >= total {
			return nil, fmt.Errorf("unit %s spike at frame %d beyond recording end %d", u.ID, u.SpikeFrames[n-1], total)
		}
	}
	a := &Analyzer{
		Folder:  folder,
		fsys:    fsys,
		rec:     rec,
		sorting: s.Clone(),
		fs:      rec.SamplingFrequency(),
		traces:  traces,
	}
	a.locations, _ = recording.Locations(rec)

	if err := fsys.MkdirAll(folder, 0755); err != nil {
		return nil, err
	}
	if err := a.writeJSON("recording.json", recordingInfo{
		SamplingFrequency: a.fs,
		ChannelIDs:        rec.ChannelIDs(),
		NumFrames:         total,
		Locations:         a.locations,
	}); err != nil {
		return nil, err
	}
	if err := a.sorting.Save(fsys, filepath.Join(folder, "sorting")); err != nil {
		return nil, err
	}
	return a, nil
}

type recordingInfo struct {
	SamplingFrequency float64      `json:"sampling_frequency"`
	ChannelIDs        []string     `json:"channel_ids"`
	NumFrames         int          `json:"num_frames"`
	Locations         [][2]float64 `json:"locations,omitempty"`
}

func (a *Analyzer) SamplingFrequency() float64      { return a.fs }
func (a *Analyzer) Recording() recording.Stream     { return a.rec }
func (a *Analyzer) Sorting() *sorting.Sorting       { return a.sorting }
func (a *Analyzer) NumChannels() int                { return len(a.traces) }
func (a *Analyzer) NumFrames() int                  { return len(a.traces[0]) }
func (a *Analyzer) UnitIDs() []string               { return a.sorting.UnitIDs() }
func (a *Analyzer) Locations() ([][2]float64, bool) { return a.locations, a.locations != nil }

// DurationSeconds is the length of the recording.
func (a *Analyzer) DurationSeconds() float64 { return float64(a.NumFrames()) / a.fs }

// Computed lists computed extensions in computation order.
func (a *Analyzer) Computed() []string { return append([]string(nil), a.computed...) }

// Has reports whether the named extension has been computed.
func (a *Analyzer) Has(name string) bool {
	for _, c := range a.computed {
		if c == name {
			return true
		}
	}
	return false
}

// Compute runs steps in the given order. A step whose required parent has
// not been computed, earlier in steps or by a previous call, fails.
func (a *Analyzer) Compute(steps protocol.Steps) error {
	for _, st := range steps {
		ext, ok := extensions[st.Name]
		if !ok {
			return fmt.Errorf("unknown extension %q", st.Name)
		}
		for _, parent := range ext.requires {
			if !a.Has(parent) {
				return fmt.Errorf("extension %s requires %s to be computed first", st.Name, parent)
			}
		}
		params := st.Params
		if params == nil {
			params = protocol.Params{}
		}
		out, err := ext.compute(a, params)
		if err != nil {
			return fmt.Errorf("compute %s: %w", st.Name, err)
		}
		if err := a.save(st.Name, out); err != nil {
			return fmt.Errorf("save %s: %w", st.Name, err)
		}
		if !a.Has(st.Name) {
			a.computed = append(a.computed, st.Name)
		}
	}
	return nil
}

func (a *Analyzer) save(name string, out any) error {
	if w, ok := out.(rawSaver); ok {
		return w.saveRaw(a.fsys, filepath.Join(a.Folder, "extensions", name))
	}
	return a.writeJSON(filepath.Join("extensions", name+".json"), out)
}

func (a *Analyzer) writeJSON(rel string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileIn(a.fsys, filepath.Join(a.Folder, rel), b)
}

// snippet copies samples [frame-nBefore, frame+nAfter) of the given
// channels, zero-padded outside the recording: out[channel][sample].
func (a *Analyzer) snippet(frame, nBefore, nAfter int, channels []int) [][]float32 {
	out := make([][]float32, len(channels))
	n := a.NumFrames()
	for i, c := range channels {
		row := make([]float32, nBefore+nAfter)
		lo := frame - nBefore
		for k := range row {
			if f := lo + k; f >= 0 && f < n {
				row[k] = a.traces[c][f]
			}
		}
		out[i] = row
	}
	return out
}

func (a *Analyzer) allChannels() []int {
	out := make([]int, a.NumChannels())
	for i := range out {
		out[i] = i
	}
	return out
}

func msToFrames(ms, fs float64) int {
	return int(ms * fs / 1000)
}

// Engine builds analyzers on a fixed filesystem.
type Engine struct {
	FS fsutil.FileSystem
}

// Build implements the pipeline's analysis engine.
func (e Engine) Build(rec recording.Stream, s *sorting.Sorting, folder string) (*Analyzer, error) {
	return Create(rec, s, folder, e.FS)
}

// Trace returns the samples of one channel, segments concatenated. The slice
// is shared with the analyzer and must not be modified.
func (a *Analyzer) Trace(channel int) []float32 { return a.traces[channel] }
