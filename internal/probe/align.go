package probe

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/monitoring"
)

// DumpFileName is written to the recording folder after alignment.
const DumpFileName = "probe_dataframe_dump.txt"

// AlignmentError reports a probe whose contacts do not cover the recording
// channels one to one.
type AlignmentError struct {
	ProbeContacts     int
	RecordingChannels int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("probe/recording mismatch: %d probe contacts match the recording but it has %d channels; check the contact_ids mapping or the channel selection",
		e.ProbeContacts, e.RecordingChannels)
}

// Aligned is the probe restricted to the recording channels, ordered by the
// original device channel index and renumbered 0..n-1.
type Aligned struct {
	Source   *Geometry
	Contacts []Contact
}

// Align matches geom against the recording channel ids.
func Align(geom *Geometry, channelIDs []string) (*Aligned, error) {
	wanted := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		wanted[id] = true
	}

	seen := make(map[string]bool, len(geom.Contacts))
	kept := make([]Contact, 0, len(channelIDs))
	for _, c := range geom.Contacts {
		if !wanted[c.ContactID] || seen[c.ContactID] {
			continue
		}
		seen[c.ContactID] = true
		kept = append(kept, cloneContact(c))
	}
	if len(kept) != len(channelIDs) {
		return nil, &AlignmentError{ProbeContacts: len(kept), RecordingChannels: len(channelIDs)}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].DeviceChannelIndex < kept[j].DeviceChannelIndex
	})
	for i := range kept {
		kept[i].DeviceChannelIndex = i
	}
	monitoring.Logf("probe %s aligned: %d contacts", geom.Path, len(kept))
	return &Aligned{Source: geom, Contacts: kept}, nil
}

func cloneContact(c Contact) Contact {
	if c.ShapeParams != nil {
		params := make(map[string]float64, len(c.ShapeParams))
		for k, v := range c.ShapeParams {
			params[k] = v
		}
		c.ShapeParams = params
	}
	return c
}

// ChannelLocations returns contact positions indexed by the renumbered
// device channel index.
func (a *Aligned) ChannelLocations() [][2]float64 {
	locs := make([][2]float64, len(a.Contacts))
	for _, c := range a.Contacts {
		locs[c.DeviceChannelIndex] = c.Position
	}
	return locs
}

// ContactIDs returns the contact ids in aligned order.
func (a *Aligned) ContactIDs() []string {
	ids := make([]string, len(a.Contacts))
	for i, c := range a.Contacts {
		ids[i] = c.ContactID
	}
	return ids
}

var tsvColumns = []string{
	"x", "y", "contact_shapes", "radius", "width", "height",
	"shank_ids", "contact_ids", "device_channel_indices", "si_units",
}

// WriteTSV writes the aligned table with a header row, one contact per line.
func (a *Aligned) WriteTSV(w io.Writer) error {
	var buf bytes.Buffer
	writeRow(&buf, tsvColumns)
	units := "um"
	if a.Source != nil && a.Source.SIUnits != "" {
		units = a.Source.SIUnits
	}
	for _, c := range a.Contacts {
		writeRow(&buf, []string{
			formatFloat(c.Position[0]),
			formatFloat(c.Position[1]),
			c.Shape,
			shapeParam(c, "radius"),
			shapeParam(c, "width"),
			shapeParam(c, "height"),
			c.ShankID,
			c.ContactID,
			strconv.Itoa(c.DeviceChannelIndex),
			units,
		})
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// DumpTSV writes the aligned table to path.
func (a *Aligned) DumpTSV(fsys fsutil.FileSystem, path string) error {
	var buf bytes.Buffer
	if err := a.WriteTSV(&buf); err != nil {
		return err
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write probe dump: %w", err)
	}
	return nil
}

func writeRow(buf *bytes.Buffer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(c)
	}
	buf.WriteByte('\n')
}

func shapeParam(c Contact, key string) string {
	v, ok := c.ShapeParams[key]
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
