package analyzer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sort"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/protocol"
)

func computeRandomSpikes(a *Analyzer, p protocol.Params) (any, error) {
	method, err := p.String("method", "uniform")
	if err != nil {
		return nil, err
	}
	maxSpikes, err := p.Int("max_spikes_per_unit", 500)
	if err != nil {
		return nil, err
	}
	seed, err := p.Int("seed", 0)
	if err != nil {
		return nil, err
	}
	if method != "uniform" && method != "all" {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	if maxSpikes < 1 {
		return nil, fmt.Errorf("max_spikes_per_unit must be >= 1, got %d", maxSpikes)
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	rs := &RandomSpikes{Method: method, MaxSpikesPerUnit: maxSpikes, Seed: uint64(seed)}
	for _, u := range a.sorting.Units {
		n := len(u.SpikeFrames)
		var idx []int
		if method == "all" || n <= maxSpikes {
			idx = make([]int, n)
			for i := range idx {
				idx[i] = i
			}
		} else {
			idx = rng.Perm(n)[:maxSpikes]
			sort.Ints(idx)
		}
		rs.Indices = append(rs.Indices, idx)
	}
	a.Results.RandomSpikes = rs
	return rs, nil
}

func windowParams(p protocol.Params, before, after float64) (float64, float64, error) {
	msBefore, err := p.Float("ms_before", before)
	if err != nil {
		return 0, 0, err
	}
	msAfter, err := p.Float("ms_after", after)
	if err != nil {
		return 0, 0, err
	}
	if msBefore < 0 || msAfter <= 0 {
		return 0, 0, fmt.Errorf("need ms_before >= 0 and ms_after > 0, got %v and %v", msBefore, msAfter)
	}
	return msBefore, msAfter, nil
}

func computeWaveforms(a *Analyzer, p protocol.Params) (any, error) {
	msBefore, msAfter, err := windowParams(p, 1.0, 2.0)
	if err != nil {
		return nil, err
	}
	w := &Waveforms{
		MsBefore: msBefore,
		MsAfter:  msAfter,
		NBefore:  msToFrames(msBefore, a.fs),
		NAfter:   msToFrames(msAfter, a.fs),
	}
	chans := a.allChannels()
	for ui, u := range a.sorting.Units {
		idx := a.Results.RandomSpikes.Indices[ui]
		unit := make([][][]float32, len(idx))
		for k, i := range idx {
			unit[k] = a.snippet(u.SpikeFrames[i], w.NBefore, w.NAfter, chans)
		}
		w.Data = append(w.Data, unit)
	}
	a.Results.Waveforms = w
	return w, nil
}

type rawSaver interface {
	saveRaw(fsys fsutil.FileSystem, dir string) error
}

// saveRaw writes one little-endian float32 file per unit, laid out
// [spike][sample][channel], plus a JSON descriptor.
func (w *Waveforms) saveRaw(fsys fsutil.FileSystem, dir string) error {
	type unitInfo struct {
		File      string `json:"file"`
		NumSpikes int    `json:"num_spikes"`
	}
	meta := struct {
		MsBefore float64    `json:"ms_before"`
		MsAfter  float64    `json:"ms_after"`
		NBefore  int        `json:"nbefore"`
		NAfter   int        `json:"nafter"`
		Dtype    string     `json:"dtype"`
		Units    []unitInfo `json:"units"`
	}{MsBefore: w.MsBefore, MsAfter: w.MsAfter, NBefore: w.NBefore, NAfter: w.NAfter, Dtype: "<f4"}

	for u, spikes := range w.Data {
		var buf bytes.Buffer
		word := make([]byte, 4)
		for _, snip := range spikes {
			for s := 0; s < w.NBefore+w.NAfter; s++ {
				for c := range snip {
					binary.LittleEndian.PutUint32(word, math.Float32bits(snip[c][s]))
					buf.Write(word)
				}
			}
		}
		name := fmt.Sprintf("waveforms_unit%d.raw", u)
		if err := fsutil.WriteFileIn(fsys, filepath.Join(dir, name), buf.Bytes()); err != nil {
			return err
		}
		meta.Units = append(meta.Units, unitInfo{File: name, NumSpikes: len(spikes)})
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileIn(fsys, filepath.Join(dir, "waveforms.json"), b)
}

func computeTemplates(a *Analyzer, p protocol.Params) (any, error) {
	var msBefore, msAfter float64
	var err error
	wf := a.Results.Waveforms
	if wf != nil {
		msBefore, msAfter = wf.MsBefore, wf.MsAfter
	} else if msBefore, msAfter, err = windowParams(p, 1.0, 2.0); err != nil {
		return nil, err
	}
	nBefore := msToFrames(msBefore, a.fs)
	nAfter := msToFrames(msAfter, a.fs)
	n := nBefore + nAfter
	chans := a.allChannels()

	t := &Templates{MsBefore: msBefore, MsAfter: msAfter, NBefore: nBefore}
	for ui, u := range a.sorting.Units {
		var snippets [][][]float32
		if wf != nil {
			snippets = wf.Data[ui]
		} else {
			for _, i := range a.Results.RandomSpikes.Indices[ui] {
				snippets = append(snippets, a.snippet(u.SpikeFrames[i], nBefore, nAfter, chans))
			}
		}
		avg := make([][]float64, len(chans))
		std := make([][]float64, len(chans))
		for c := range chans {
			avg[c] = make([]float64, n)
			std[c] = make([]float64, n)
			if len(snippets) == 0 {
				continue
			}
			for s := 0; s < n; s++ {
				var sum, sumSq float64
				for _, snip := range snippets {
					v := float64(snip[c][s])
					sum += v
					sumSq += v * v
				}
				k := float64(len(snippets))
				mean := sum / k
				avg[c][s] = mean
				std[c][s] = math.Sqrt(math.Max(sumSq/k-mean*mean, 0))
			}
		}
		t.Average = append(t.Average, avg)
		t.Std = append(t.Std, std)
	}
	a.Results.Templates = t
	return t, nil
}
