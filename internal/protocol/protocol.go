// Package protocol describes the ordered preprocessing and postprocessing
// steps applied to a recording around spike sorting.
package protocol

import (
	"fmt"
)

// Preprocessing step names.
const (
	StepBandpass        = "bandpass_filter"
	StepRemoveArtifacts = "remove_artifacts"
)

// Postprocessing step names, one per analyzer extension.
const (
	RandomSpikes       = "random_spikes"
	NoiseLevels        = "noise_levels"
	Correlograms       = "correlograms"
	Waveforms          = "waveforms"
	Templates          = "templates"
	AmplitudeScalings  = "amplitude_scalings"
	SpikeAmplitudes    = "spike_amplitudes"
	UnitLocations      = "unit_locations"
	SpikeLocations     = "spike_locations"
	TemplateSimilarity = "template_similarity"
	TemplateMetrics    = "template_metrics"
	QualityMetrics     = "quality_metrics"
)

// Step is one named operation with its options.
type Step struct {
	Name   string
	Params Params
}

// Steps is an ordered list of uniquely named steps.
type Steps []Step

func (s Steps) index(name string) int {
	for i, st := range s {
		if st.Name == name {
			return i
		}
	}
	return -1
}

// Get returns the params of the named step.
func (s Steps) Get(name string) (Params, bool) {
	if i := s.index(name); i >= 0 {
		return s[i].Params, true
	}
	return nil, false
}

// Has reports whether the named step is present.
func (s Steps) Has(name string) bool { return s.index(name) >= 0 }

// Set replaces the params of an existing step in place or appends a new one.
func (s *Steps) Set(name string, params Params) {
	if params == nil {
		params = Params{}
	}
	if i := s.index(name); i >= 0 {
		(*s)[i].Params = params
		return
	}
	*s = append(*s, Step{Name: name, Params: params})
}

// Delete removes the named step, keeping the order of the others. It
// reports whether the step was present.
func (s *Steps) Delete(name string) bool {
	i := s.index(name)
	if i < 0 {
		return false
	}
	*s = append((*s)[:i], (*s)[i+1:]...)
	return true
}

// Names lists the step names in order.
func (s Steps) Names() []string {
	out := make([]string, len(s))
	for i, st := range s {
		out[i] = st.Name
	}
	return out
}

// Clone deep-copies s.
func (s Steps) Clone() Steps {
	if s == nil {
		return nil
	}
	out := make(Steps, len(s))
	for i, st := range s {
		out[i] = Step{Name: st.Name, Params: st.Params.Clone()}
	}
	return out
}

// Protocol is the processing recipe of one pipeline run.
type Protocol struct {
	FilePath       string
	Preprocessing  Steps
	Postprocessing Steps
}

// New builds the default protocol: a band-pass filter followed by the full
// set of postprocessing extensions.
func New(freqMin, freqMax float64, filePath string) (*Protocol, error) {
	if freqMin <= 0 || freqMax <= freqMin {
		return nil, fmt.Errorf("band-pass needs 0 < freq_min < freq_max, got %v and %v", freqMin, freqMax)
	}
	return &Protocol{
		FilePath: filePath,
		Preprocessing: Steps{
			{Name: StepBandpass, Params: Params{"freq_min": freqMin, "freq_max": freqMax}},
		},
		Postprocessing: Steps{
			{Name: RandomSpikes, Params: Params{}},
			{Name: NoiseLevels, Params: Params{}},
			{Name: Correlograms, Params: Params{}},
			{Name: Waveforms, Params: Params{}},
			{Name: Templates, Params: Params{}},
			{Name: AmplitudeScalings, Params: Params{}},
			{Name: SpikeAmplitudes, Params: Params{}},
			{Name: UnitLocations, Params: Params{"method": "center_of_mass"}},
			{Name: SpikeLocations, Params: Params{}},
			{Name: TemplateSimilarity, Params: Params{}},
			{Name: TemplateMetrics, Params: Params{}},
			{Name: QualityMetrics, Params: Params{}},
		},
	}, nil
}

// Clone deep-copies p so the copy can be changed without touching p.
func (p *Protocol) Clone() *Protocol {
	return &Protocol{
		FilePath:       p.FilePath,
		Preprocessing:  p.Preprocessing.Clone(),
		Postprocessing: p.Postprocessing.Clone(),
	}
}

// WithArtifactRemoval returns a copy of p whose preprocessing zeroes the
// signal around each trigger time (seconds). With no triggers the copy has
// no artifact removal step at all, even if p carried one.
func (p *Protocol) WithArtifactRemoval(triggers []float64) *Protocol {
	out := p.Clone()
	if len(triggers) == 0 {
		out.Preprocessing.Delete(StepRemoveArtifacts)
		return out
	}
	out.Preprocessing.Set(StepRemoveArtifacts, Params{
		"list_triggers": append([]float64(nil), triggers...),
		"mode":          "zeros",
	})
	return out
}

// Bandpass returns the band-pass cutoffs, if the protocol has that step.
func (p *Protocol) Bandpass() (freqMin, freqMax float64, ok bool) {
	params, ok := p.Preprocessing.Get(StepBandpass)
	if !ok {
		return 0, 0, false
	}
	lo, err1 := params.Float("freq_min", 0)
	hi, err2 := params.Float("freq_max", 0)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}
