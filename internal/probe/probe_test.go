package probe

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

func readFixture(t *testing.T) *Geometry {
	t.Helper()
	g, err := Read(fsutil.OSFileSystem{}, "testdata/linear_4ch.json")
	require.NoError(t, err)
	return g
}

func TestRead(t *testing.T) {
	g := readFixture(t)
	assert.Equal(t, "testdata/linear_4ch.json", g.Path)
	assert.Equal(t, "um", g.SIUnits)
	assert.Equal(t, 2, g.NDim)
	require.Len(t, g.Contacts, 4)
	assert.Equal(t, Contact{
		ContactID:          "A-003",
		DeviceChannelIndex: 12,
		Position:           [2]float64{0, 75},
		Shape:              "circle",
		ShapeParams:        map[string]float64{"radius": 7.5},
	}, g.Contacts[0])
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(fsutil.NewMemoryFileSystem(), "/nope.json")
	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"malformed":   `{"probes": [`,
		"no probes":   `{"probes": []}`,
		"no contacts": `{"probes": [{"contact_positions": []}]}`,
		"ids length":  `{"probes": [{"contact_positions": [[0,0],[0,1]], "contact_ids": ["a"], "device_channel_indices": [0,1]}]}`,
		"dci length":  `{"probes": [{"contact_positions": [[0,0]], "contact_ids": ["a"], "device_channel_indices": []}]}`,
		"shapes":      `{"probes": [{"contact_positions": [[0,0]], "contact_ids": ["a"], "device_channel_indices": [0], "contact_shapes": ["circle","square"]}]}`,
		"coordinates": `{"probes": [{"contact_positions": [[0]], "contact_ids": ["a"], "device_channel_indices": [0]}]}`,
		"bad id":      `{"probes": [{"contact_positions": [[0,0]], "contact_ids": [true], "device_channel_indices": [0]}]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("probe.json", []byte(data))
			assert.Error(t, err)
		})
	}
}

func TestParse_NumericIDsNormalised(t *testing.T) {
	g, err := Parse("p.json", []byte(`{"probes": [{"contact_positions": [[0,0],[0,20]], "contact_ids": [1, 2], "device_channel_indices": [1, 0]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "1", g.Contacts[0].ContactID)
	assert.Equal(t, "2", g.Contacts[1].ContactID)
	assert.Equal(t, "circle", g.Contacts[0].Shape)
}

func TestAlign_OrdersAndRenumbers(t *testing.T) {
	g := readFixture(t)

	a, err := Align(g, []string{"A-000", "A-001", "A-002", "A-003"})
	require.NoError(t, err)

	// Sorted by original device channel index 3, 5, 9, 12.
	assert.Equal(t, []string{"A-000", "A-001", "A-002", "A-003"}, a.ContactIDs())
	for i, c := range a.Contacts {
		assert.Equal(t, i, c.DeviceChannelIndex)
	}
	want := [][2]float64{{0, 0}, {0, 25}, {0, 50}, {0, 75}}
	if diff := cmp.Diff(want, a.ChannelLocations()); diff != "" {
		t.Errorf("ChannelLocations() mismatch (-want +got):\n%s", diff)
	}

	// The source table is not modified.
	assert.Equal(t, 12, g.Contacts[0].DeviceChannelIndex)
}

func TestAlign_DropsExtraContactsAndDuplicates(t *testing.T) {
	g := readFixture(t)
	g.Contacts = append(g.Contacts, Contact{ContactID: "A-000", DeviceChannelIndex: 0, Position: [2]float64{99, 99}})

	a, err := Align(g, []string{"A-000", "A-002"})
	require.NoError(t, err)
	require.Len(t, a.Contacts, 2)
	assert.Equal(t, "A-000", a.Contacts[0].ContactID)
	// First occurrence wins.
	assert.Equal(t, [2]float64{0, 0}, a.Contacts[0].Position)
	assert.Equal(t, 1, a.Contacts[1].DeviceChannelIndex)
}

func TestAlign_CountMismatch(t *testing.T) {
	g := readFixture(t)

	_, err := Align(g, []string{"A-000", "A-001", "A-002", "A-003", "A-004"})
	require.Error(t, err)

	var aerr *AlignmentError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 4, aerr.ProbeContacts)
	assert.Equal(t, 5, aerr.RecordingChannels)
	assert.Contains(t, err.Error(), "4 probe contacts")
	assert.Contains(t, err.Error(), "5 channels")
}

func TestAligned_WriteTSV(t *testing.T) {
	a, err := Align(readFixture(t), []string{"A-002", "A-000"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.WriteTSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "x\ty\tcontact_shapes\tradius\twidth\theight\tshank_ids\tcontact_ids\tdevice_channel_indices\tsi_units", lines[0])
	assert.Equal(t, "0\t0\tcircle\t7.5\t\t\t\tA-000\t0\tum", lines[1])
	assert.Equal(t, "0\t50\tcircle\t7.5\t\t\t\tA-002\t1\tum", lines[2])
}

func TestAligned_DumpTSV(t *testing.T) {
	a, err := Align(readFixture(t), []string{"A-000"})
	require.NoError(t, err)

	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, a.DumpTSV(mfs, "/rec/"+DumpFileName))
	data, err := mfs.ReadFile("/rec/probe_dataframe_dump.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "x\ty\t"))
}
