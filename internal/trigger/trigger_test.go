package trigger

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/recording"
)

func mustConfig(t *testing.T, threshold float64, edge Edge, minInterval float64) Config {
	t.Helper()
	cfg, err := NewConfig(threshold, edge, minInterval)
	require.NoError(t, err)
	return cfg
}

func TestNewConfig_Validation(t *testing.T) {
	_, err := NewConfig(37000, 0, 5.1)
	assert.Error(t, err)
	_, err = NewConfig(37000, 2, 5.1)
	assert.Error(t, err)
	_, err = NewConfig(37000, Falling, -0.1)
	assert.Error(t, err)

	cfg, err := NewConfig(37000, Falling, 5.1)
	require.NoError(t, err)
	assert.Equal(t, 37000.0, cfg.Threshold())
	assert.Equal(t, Falling, cfg.Edge())
	assert.Equal(t, 5.1, cfg.MinInterval())
	assert.Equal(t, "Trigger(threshold=37000, edge=-1, min_interval=5.1)", cfg.String())
}

func TestNewExtractionConfig(t *testing.T) {
	cfg := mustConfig(t, 1, Rising, 0)
	_, err := NewExtractionConfig(cfg, -1)
	assert.Error(t, err)

	ec, err := NewExtractionConfig(cfg, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, ec.ChannelIndex)
}

func TestDetect(t *testing.T) {
	approx := cmpopts.EquateApprox(0, 1e-12)
	tests := []struct {
		name    string
		samples []float32
		fs      float64
		cfg     Config
		want    []float64
	}{
		{
			name:    "falling edge",
			samples: []float32{40000, 40000, 30000, 30000, 40000, 40000},
			fs:      1000,
			cfg:     mustConfig(t, 35000, Falling, 0),
			want:    []float64{0.002},
		},
		{
			name:    "rising edge",
			samples: []float32{40000, 40000, 30000, 30000, 40000, 40000},
			fs:      1000,
			cfg:     mustConfig(t, 35000, Rising, 0),
			want:    []float64{0.004},
		},
		{
			name:    "sample equal to threshold is not under",
			samples: []float32{0, 5, 0, 5},
			fs:      10,
			cfg:     mustConfig(t, 5, Rising, 0),
			want:    []float64{0.1, 0.3},
		},
		{
			name:    "never crosses",
			samples: []float32{1, 1, 1, 1},
			fs:      1000,
			cfg:     mustConfig(t, 35000, Falling, 0),
			want:    []float64{},
		},
		{
			name:    "starts under threshold",
			samples: []float32{0, 0, 0},
			fs:      1000,
			cfg:     mustConfig(t, 35000, Falling, 0),
			want:    []float64{},
		},
		{
			name:    "single sample",
			samples: []float32{0},
			fs:      1000,
			cfg:     mustConfig(t, 1, Falling, 0),
			want:    []float64{},
		},
		{
			name:    "debounce drops close events",
			samples: []float32{9, 0, 9, 0, 9, 9, 9, 9, 9, 9, 9, 0},
			fs:      1,
			cfg:     mustConfig(t, 5, Falling, 5),
			want:    []float64{1, 11},
		},
		{
			name:    "debounce compares to last kept",
			samples: []float32{9, 0, 9, 9, 0, 9, 9, 0},
			fs:      1,
			cfg:     mustConfig(t, 5, Falling, 4),
			want:    []float64{1, 7},
		},
		{
			name:    "zero interval keeps every crossing",
			samples: []float32{9, 0, 9, 0, 9, 0},
			fs:      1,
			cfg:     mustConfig(t, 5, Falling, 0),
			want:    []float64{1, 3, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.samples, tt.fs, tt.cfg)
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("Detect() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetect_IntervalInvariant(t *testing.T) {
	samples := make([]float32, 5000)
	for i := range samples {
		if (i/7)%2 == 0 {
			samples[i] = 40000
		}
	}
	cfg := mustConfig(t, 35000, Falling, 0.05)
	got := Detect(samples, 1000, cfg)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i]-got[i-1], cfg.MinInterval())
		assert.Greater(t, got[i], got[i-1])
	}
}

func TestDetectStream(t *testing.T) {
	adc, err := recording.NewBuffer(1000, []string{"ANALOG-IN-1", "ANALOG-IN-2"}, recording.Uint16,
		[][]float32{{0, 0, 0}, {40000, 40000, 30000}},
		[][]float32{{0, 0, 0}, {30000, 40000, 40000}})
	require.NoError(t, err)

	ec, err := NewExtractionConfig(mustConfig(t, 35000, Rising, 0), 1)
	require.NoError(t, err)
	got, err := DetectStream(adc, ec)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.004}, got, 1e-12)
}

func TestDetectStream_ChannelOutOfRange(t *testing.T) {
	adc, err := recording.NewBuffer(1000, []string{"ANALOG-IN-1", "ANALOG-IN-2"}, recording.Uint16,
		[][]float32{{0}, {0}})
	require.NoError(t, err)

	ec := ExtractionConfig{Trigger: mustConfig(t, 1, Rising, 0), ChannelIndex: 2}
	_, err = DetectStream(adc, ec)
	require.Error(t, err)

	var rangeErr *ChannelRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 2, rangeErr.Index)
	assert.Equal(t, 2, rangeErr.NumChannels)
	assert.Contains(t, err.Error(), "trigger_channel_index=2")
	assert.Contains(t, err.Error(), "2 ADC channels")
}
