package protocol

// parents lists, per extension, the extensions that must run before it when
// both are requested.
var parents = map[string][]string{
	Waveforms:          {RandomSpikes},
	Templates:          {RandomSpikes, Waveforms},
	AmplitudeScalings:  {Templates},
	SpikeAmplitudes:    {Templates},
	UnitLocations:      {Templates},
	SpikeLocations:     {Templates},
	TemplateSimilarity: {Templates},
	TemplateMetrics:    {Templates},
	QualityMetrics:     {Templates, NoiseLevels},
}

// Parents returns the extensions name depends on.
func Parents(name string) []string {
	return append([]string(nil), parents[name]...)
}

// OrderPostprocessing returns steps ordered so that every extension follows
// the parents it depends on. Steps with no constraint between them keep their
// declared order.
func OrderPostprocessing(steps Steps) Steps {
	n := len(steps)
	pos := make(map[string]int, n)
	for i, st := range steps {
		pos[st.Name] = i
	}
	indegree := make([]int, n)
	children := make([][]int, n)
	for i, st := range steps {
		for _, parent := range parents[st.Name] {
			if j, ok := pos[parent]; ok && j != i {
				indegree[i]++
				children[j] = append(children[j], i)
			}
		}
	}

	out := make(Steps, 0, n)
	done := make([]bool, n)
	for len(out) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			// Unreachable with the fixed parent table; keep the rest as declared.
			for i := 0; i < n; i++ {
				if !done[i] {
					out = append(out, steps[i])
					done[i] = true
				}
			}
			break
		}
		done[next] = true
		out = append(out, steps[next])
		for _, c := range children[next] {
			indegree[c]--
		}
	}
	return out
}
