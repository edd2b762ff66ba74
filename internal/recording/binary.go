package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/monitoring"
)

// BinaryFileName is the descriptor written next to the raw sample files of a
// binary folder.
const BinaryFileName = "binary.json"

// Slug maps a stream name to the sub-folder holding its binary export.
func Slug(stream string) string {
	switch stream {
	case StreamStim:
		return "stim"
	case StreamADC:
		return "adc"
	case StreamAmplifier:
		return "amplifier"
	}
	return strings.ToLower(strings.ReplaceAll(stream, " ", "_"))
}

// binaryDescriptor mirrors the kwargs of a binary recording dump.
type binaryDescriptor struct {
	Class  string       `json:"class,omitempty"`
	Kwargs binaryKwargs `json:"kwargs"`
}

type binaryKwargs struct {
	FilePaths         []string     `json:"file_paths"`
	SamplingFrequency float64      `json:"sampling_frequency"`
	NumChannels       int          `json:"num_channels"`
	ChannelIDs        []channelID  `json:"channel_ids,omitempty"`
	TimeAxis          int          `json:"time_axis"`
	Dtype             string       `json:"dtype"`
	FileOffset        int          `json:"file_offset"`
	Locations         [][2]float64 `json:"locations,omitempty"`
}

// channelID accepts both numeric and string ids.
type channelID string

func (c *channelID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = channelID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("channel id %s: %w", b, err)
	}
	*c = channelID(n.String())
	return nil
}

func parseDtype(s string) (Dtype, error) {
	switch strings.TrimLeft(s, "<|=") {
	case "int16", "i2":
		return Int16, nil
	case "uint16", "u2":
		return Uint16, nil
	case "float32", "f4":
		return Float32, nil
	}
	return "", fmt.Errorf("unsupported dtype %q", s)
}

// ReadBinaryFolder reads one binary folder. Every listed file is appended to a
// single segment in order, the way split acquisition files are concatenated
// into one logical recording.
func ReadBinaryFolder(fsys fsutil.FileSystem, dir string) (*Buffer, error) {
	raw, err := fsys.ReadFile(filepath.Join(dir, BinaryFileName))
	if err != nil {
		return nil, err
	}
	var desc binaryDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", BinaryFileName, err)
	}
	kw := desc.Kwargs
	dtype, err := parseDtype(kw.Dtype)
	if err != nil {
		return nil, err
	}
	if kw.NumChannels <= 0 {
		return nil, fmt.Errorf("num_channels must be positive, got %d", kw.NumChannels)
	}
	if kw.TimeAxis != 0 {
		return nil, fmt.Errorf("time_axis %d not supported", kw.TimeAxis)
	}
	if len(kw.FilePaths) == 0 {
		return nil, fmt.Errorf("no file_paths in %s", BinaryFileName)
	}

	ids := make([]string, kw.NumChannels)
	if len(kw.ChannelIDs) == 0 {
		for i := range ids {
			ids[i] = strconv.Itoa(i)
		}
	} else if len(kw.ChannelIDs) != kw.NumChannels {
		return nil, fmt.Errorf("%d channel_ids for %d channels", len(kw.ChannelIDs), kw.NumChannels)
	} else {
		for i, id := range kw.ChannelIDs {
			ids[i] = string(id)
		}
	}

	data := make([][]float32, kw.NumChannels)
	frameSize := kw.NumChannels * dtype.Size()
	for _, p := range kw.FilePaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		b, err := fsys.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if kw.FileOffset > len(b) {
			return nil, fmt.Errorf("%s: file_offset %d beyond %d bytes", p, kw.FileOffset, len(b))
		}
		b = b[kw.FileOffset:]
		if len(b)%frameSize != 0 {
			return nil, fmt.Errorf("%s: %d bytes is not a whole number of %d-byte frames", p, len(b), frameSize)
		}
		decodeFrames(b, dtype, data)
	}

	buf, err := NewBuffer(kw.SamplingFrequency, ids, dtype, data)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeFrames(b []byte, dtype Dtype, data [][]float32) {
	size := dtype.Size()
	nch := len(data)
	frames := len(b) / (size * nch)
	for c := range data {
		data[c] = append(data[c], make([]float32, frames)...)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < nch; c++ {
			off := (f*nch + c) * size
			var v float32
			switch dtype {
			case Int16:
				v = float32(int16(binary.LittleEndian.Uint16(b[off:])))
			case Uint16:
				v = float32(binary.LittleEndian.Uint16(b[off:]))
			case Float32:
				v = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			}
			data[c][len(data[c])-frames+f] = v
		}
	}
}

// WriteBinaryFolder exports s as float32 frame-major files, one per segment,
// plus the binary.json descriptor. Contact positions are included when s
// carries them.
func WriteBinaryFolder(fsys fsutil.FileSystem, dir string, s Stream) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return err
	}
	kw := binaryKwargs{
		SamplingFrequency: s.SamplingFrequency(),
		NumChannels:       s.NumChannels(),
		Dtype:             "<f4",
	}
	for _, id := range s.ChannelIDs() {
		kw.ChannelIDs = append(kw.ChannelIDs, channelID(id))
	}
	if locs, ok := Locations(s); ok {
		kw.Locations = locs
	}
	for seg := 0; seg < s.NumSegments(); seg++ {
		name := fmt.Sprintf("traces_cached_seg%d.raw", seg)
		tr, err := s.Traces(seg, 0, s.NumFrames(seg), nil)
		if err != nil {
			return fmt.Errorf("read segment %d: %w", seg, err)
		}
		var buf bytes.Buffer
		buf.Grow(len(tr) * s.NumFrames(seg) * 4)
		word := make([]byte, 4)
		for f := 0; f < s.NumFrames(seg); f++ {
			for c := range tr {
				binary.LittleEndian.PutUint32(word, math.Float32bits(tr[c][f]))
				buf.Write(word)
			}
		}
		if err := fsys.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644); err != nil {
			return err
		}
		kw.FilePaths = append(kw.FilePaths, name)
	}
	desc := binaryDescriptor{
		Class:  "spikeinterface.core.binaryrecordingextractor.BinaryRecordingExtractor",
		Kwargs: kw,
	}
	b, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	return fsys.WriteFile(filepath.Join(dir, BinaryFileName), b, 0644)
}

// BinaryFolderLoader opens streams exported as binary folders under
// <folder>/<slug>.
type BinaryFolderLoader struct {
	FS fsutil.FileSystem
}

// Load implements Loader.
func (l BinaryFolderLoader) Load(_ context.Context, folder, stream string) (Stream, error) {
	fsys := l.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	dir := filepath.Join(folder, Slug(stream))
	if !fsys.Exists(filepath.Join(dir, BinaryFileName)) {
		return nil, &LoadError{Folder: folder, Stream: stream, Err: ErrStreamNotFound}
	}
	buf, err := ReadBinaryFolder(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", ErrStreamNotFound, err)
		}
		return nil, &LoadError{Folder: folder, Stream: stream, Err: err}
	}
	monitoring.Logf("loaded %s from %s: %d channels, %d frames", stream, dir, buf.NumChannels(), buf.NumFrames(0))
	return buf, nil
}
