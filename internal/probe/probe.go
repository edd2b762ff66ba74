// Package probe reads electrode array geometry and aligns it to the channels
// of an amplifier recording.
package probe

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

// Contact is one recording site on the probe.
type Contact struct {
	ContactID          string
	DeviceChannelIndex int
	Position           [2]float64
	Shape              string
	ShapeParams        map[string]float64
	ShankID            string
}

// Geometry is the full contact table of a probe file, before alignment.
type Geometry struct {
	Path     string
	Contacts []Contact
	SIUnits  string
	NDim     int
}

type probeFile struct {
	Specification string      `json:"specification"`
	Version       string      `json:"version"`
	Probes        []probeJSON `json:"probes"`
}

type probeJSON struct {
	NDim                 int                  `json:"ndim"`
	SIUnits              string               `json:"si_units"`
	ContactPositions     [][]float64          `json:"contact_positions"`
	ContactShapes        []string             `json:"contact_shapes"`
	ContactShapeParams   []map[string]float64 `json:"contact_shape_params"`
	DeviceChannelIndices []int                `json:"device_channel_indices"`
	ContactIDs           []json.RawMessage    `json:"contact_ids"`
	ShankIDs             []json.RawMessage    `json:"shank_ids"`
}

// Read loads the first probe of a probeinterface JSON file.
func Read(fsys fsutil.FileSystem, path string) (*Geometry, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read probe file: %w", err)
	}
	return Parse(filepath.Clean(path), data)
}

// Parse decodes probeinterface JSON. path is kept for reporting only.
func Parse(path string, data []byte) (*Geometry, error) {
	var f probeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse probe file %s: %w", path, err)
	}
	if len(f.Probes) == 0 {
		return nil, fmt.Errorf("probe file %s contains no probes", path)
	}
	p := f.Probes[0]
	n := len(p.ContactPositions)
	if n == 0 {
		return nil, fmt.Errorf("probe file %s has no contacts", path)
	}
	check := func(name string, got int, required bool) error {
		if got == 0 && !required {
			return nil
		}
		if got != n {
			return fmt.Errorf("probe file %s: %s has %d entries for %d contacts", path, name, got, n)
		}
		return nil
	}
	for _, c := range []struct {
		name     string
		got      int
		required bool
	}{
		{"contact_ids", len(p.ContactIDs), true},
		{"device_channel_indices", len(p.DeviceChannelIndices), true},
		{"contact_shapes", len(p.ContactShapes), false},
		{"contact_shape_params", len(p.ContactShapeParams), false},
		{"shank_ids", len(p.ShankIDs), false},
	} {
		if err := check(c.name, c.got, c.required); err != nil {
			return nil, err
		}
	}

	g := &Geometry{Path: path, SIUnits: p.SIUnits, NDim: p.NDim, Contacts: make([]Contact, n)}
	if g.SIUnits == "" {
		g.SIUnits = "um"
	}
	if g.NDim == 0 {
		g.NDim = 2
	}
	for i := 0; i < n; i++ {
		pos := p.ContactPositions[i]
		if len(pos) < 2 {
			return nil, fmt.Errorf("probe file %s: contact %d has %d coordinates", path, i, len(pos))
		}
		id, err := normaliseID(p.ContactIDs[i])
		if err != nil {
			return nil, fmt.Errorf("probe file %s: contact %d id: %w", path, i, err)
		}
		c := Contact{
			ContactID:          id,
			DeviceChannelIndex: p.DeviceChannelIndices[i],
			Position:           [2]float64{pos[0], pos[1]},
			Shape:              "circle",
		}
		if len(p.ContactShapes) > 0 {
			c.Shape = p.ContactShapes[i]
		}
		if len(p.ContactShapeParams) > 0 {
			c.ShapeParams = p.ContactShapeParams[i]
		}
		if len(p.ShankIDs) > 0 {
			if c.ShankID, err = normaliseID(p.ShankIDs[i]); err != nil {
				return nil, fmt.Errorf("probe file %s: contact %d shank id: %w", path, i, err)
			}
		}
		g.Contacts[i] = c
	}
	return g, nil
}

// normaliseID turns a JSON string or number into its string form.
func normaliseID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("id %s is neither a string nor a number", raw)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
