// Package trigger detects stimulation events on an auxiliary analog channel.
//
// A trigger is a threshold crossing in the configured direction. Crossings
// closer than the minimum interval to the previously kept one are dropped, so
// a ringing edge yields a single event.
package trigger

import (
	"fmt"

	"github.com/banshee-data/spikesort/internal/recording"
)

// Edge selects the crossing direction. Configs ported from the acquisition
// scripts, which take the threshold mask difference forward, select the
// opposite physical edge for the same value.
type Edge int

const (
	// Rising marks the first sample at or above the threshold after the
	// signal was below it.
	Rising Edge = 1
	// Falling marks the first sample below the threshold after the signal
	// was at or above it.
	Falling Edge = -1
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	}
	return fmt.Sprintf("Edge(%d)", int(e))
}

// Config holds the detection parameters. It is immutable once built.
type Config struct {
	threshold   float64
	edge        Edge
	minInterval float64
}

// NewConfig validates and builds a Config. minInterval is in seconds; zero
// disables debouncing.
func NewConfig(threshold float64, edge Edge, minInterval float64) (Config, error) {
	if edge != Rising && edge != Falling {
		return Config{}, fmt.Errorf("edge must be +1 or -1, got %d", int(edge))
	}
	if minInterval < 0 {
		return Config{}, fmt.Errorf("min interval must be >= 0, got %v", minInterval)
	}
	return Config{threshold: threshold, edge: edge, minInterval: minInterval}, nil
}

func (c Config) Threshold() float64   { return c.threshold }
func (c Config) Edge() Edge           { return c.edge }
func (c Config) MinInterval() float64 { return c.minInterval }

func (c Config) String() string {
	return fmt.Sprintf("Trigger(threshold=%v, edge=%d, min_interval=%v)", c.threshold, int(c.edge), c.minInterval)
}

// ExtractionConfig binds a trigger Config to the auxiliary channel it is
// read from.
type ExtractionConfig struct {
	Trigger      Config
	ChannelIndex int
}

// NewExtractionConfig validates the channel index sign. Whether the index
// exists is only known once the auxiliary stream is open.
func NewExtractionConfig(cfg Config, channelIndex int) (ExtractionConfig, error) {
	if channelIndex < 0 {
		return ExtractionConfig{}, fmt.Errorf("trigger channel index must be >= 0, got %d", channelIndex)
	}
	return ExtractionConfig{Trigger: cfg, ChannelIndex: channelIndex}, nil
}

func (e ExtractionConfig) String() string {
	return fmt.Sprintf("TimestampsParameters(trigger=%v, trigger_channel_index=%d)", e.Trigger, e.ChannelIndex)
}

// ChannelRangeError reports a trigger channel index outside the auxiliary
// stream.
type ChannelRangeError struct {
	Index       int
	NumChannels int
}

func (e *ChannelRangeError) Error() string {
	return fmt.Sprintf("trigger_channel_index=%d is out of range for %d ADC channels", e.Index, e.NumChannels)
}

// Detect returns the trigger times, in seconds and ascending, of samples
// recorded at fs Hz.
func Detect(samples []float32, fs float64, cfg Config) []float64 {
	out := []float64{}
	if len(samples) < 2 || fs <= 0 {
		return out
	}
	thr := cfg.threshold
	prevUnder := float64(samples[0]) < thr
	for i := 1; i < len(samples); i++ {
		under := float64(samples[i]) < thr
		if Edge(b2i(prevUnder)-b2i(under)) == cfg.edge {
			t := float64(i) / fs
			if cfg.minInterval <= 0 || len(out) == 0 || t-out[len(out)-1] >= cfg.minInterval {
				out = append(out, t)
			}
		}
		prevUnder = under
	}
	return out
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DetectStream runs Detect over the full length of one channel of s.
func DetectStream(s recording.Stream, ec ExtractionConfig) ([]float64, error) {
	n := s.NumChannels()
	if ec.ChannelIndex < 0 || ec.ChannelIndex >= n {
		return nil, &ChannelRangeError{Index: ec.ChannelIndex, NumChannels: n}
	}
	samples, err := recording.Channel(s, ec.ChannelIndex)
	if err != nil {
		return nil, fmt.Errorf("read trigger channel %d: %w", ec.ChannelIndex, err)
	}
	return Detect(samples, s.SamplingFrequency(), ec.Trigger), nil
}
