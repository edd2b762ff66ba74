package analyzer

import (
	"github.com/banshee-data/spikesort/internal/protocol"
)

type extension struct {
	requires []string
	compute  func(a *Analyzer, p protocol.Params) (any, error)
}

var extensions = map[string]extension{
	protocol.RandomSpikes:       {compute: computeRandomSpikes},
	protocol.NoiseLevels:        {compute: computeNoiseLevels},
	protocol.Correlograms:       {compute: computeCorrelograms},
	protocol.Waveforms:          {requires: []string{protocol.RandomSpikes}, compute: computeWaveforms},
	protocol.Templates:          {requires: []string{protocol.RandomSpikes}, compute: computeTemplates},
	protocol.AmplitudeScalings:  {requires: []string{protocol.Templates}, compute: computeAmplitudeScalings},
	protocol.SpikeAmplitudes:    {requires: []string{protocol.Templates}, compute: computeSpikeAmplitudes},
	protocol.UnitLocations:      {requires: []string{protocol.Templates}, compute: computeUnitLocations},
	protocol.SpikeLocations:     {requires: []string{protocol.Templates}, compute: computeSpikeLocations},
	protocol.TemplateSimilarity: {requires: []string{protocol.Templates}, compute: computeTemplateSimilarity},
	protocol.TemplateMetrics:    {requires: []string{protocol.Templates}, compute: computeTemplateMetrics},
	protocol.QualityMetrics:     {compute: computeQualityMetrics},
}

// Extensions lists the extension names understood by Compute.
func Extensions() []string {
	names := make([]string, 0, len(extensions))
	for k := range extensions {
		names = append(names, k)
	}
	return names
}
