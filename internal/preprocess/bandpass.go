package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
)

// BandpassSpec is a zero-phase Butterworth band-pass: the squared magnitude
// response of an order-N filter applied forward and backward.
type BandpassSpec struct {
	FreqMin float64
	FreqMax float64
	Order   int
	Margin  int // frames read on each side of a chunk and discarded
}

func parseBandpass(p protocol.Params, fs float64) (BandpassSpec, error) {
	var spec BandpassSpec
	var err error
	if spec.FreqMin, err = p.Float("freq_min", 300); err != nil {
		return spec, err
	}
	if spec.FreqMax, err = p.Float("freq_max", 6000); err != nil {
		return spec, err
	}
	if spec.Order, err = p.Int("filter_order", 5); err != nil {
		return spec, err
	}
	marginMs, err := p.Float("margin_ms", 5)
	if err != nil {
		return spec, err
	}
	switch {
	case spec.FreqMin <= 0 || spec.FreqMax <= spec.FreqMin:
		return spec, fmt.Errorf("need 0 < freq_min < freq_max, got %v and %v", spec.FreqMin, spec.FreqMax)
	case spec.FreqMax >= fs/2:
		return spec, fmt.Errorf("freq_max %v must be below Nyquist %v", spec.FreqMax, fs/2)
	case spec.Order < 1:
		return spec, fmt.Errorf("filter_order must be >= 1, got %d", spec.Order)
	case marginMs < 0:
		return spec, fmt.Errorf("margin_ms must be >= 0, got %v", marginMs)
	}
	spec.Margin = int(math.Round(marginMs * fs / 1000))
	return spec, nil
}

// Gain returns the filter power response at f Hz.
func (b BandpassSpec) Gain(f float64) float64 {
	f = math.Abs(f)
	if f == 0 {
		return 0
	}
	n := 2 * float64(b.Order)
	hp := 1 / (1 + math.Pow(b.FreqMin/f, n))
	lp := 1 / (1 + math.Pow(f/b.FreqMax, n))
	return hp * lp
}

func (e Engine) bandpass(buf *recording.Buffer, p protocol.Params) error {
	spec, err := parseBandpass(p, buf.SamplingFrequency())
	if err != nil {
		return err
	}
	chunk := e.ChunkFrames
	if chunk <= 0 {
		chunk = DefaultChunkFrames
	}
	f := newFilter(spec, buf.SamplingFrequency())
	for seg := 0; seg < buf.NumSegments(); seg++ {
		for c := 0; c < buf.NumChannels(); c++ {
			samples := buf.Samples(seg, c)
			filtered := f.apply(samples, chunk)
			copy(samples, filtered)
		}
	}
	return nil
}

type filter struct {
	spec  BandpassSpec
	fs    float64
	ffts  map[int]*fourier.FFT
	gains map[int][]float64
}

func newFilter(spec BandpassSpec, fs float64) *filter {
	return &filter{spec: spec, fs: fs, ffts: map[int]*fourier.FFT{}, gains: map[int][]float64{}}
}

func (f *filter) plan(n int) (*fourier.FFT, []float64) {
	if fft, ok := f.ffts[n]; ok {
		return fft, f.gains[n]
	}
	fft := fourier.NewFFT(n)
	gains := make([]float64, n/2+1)
	for k := range gains {
		gains[k] = f.spec.Gain(fft.Freq(k) * f.fs)
	}
	f.ffts[n] = fft
	f.gains[n] = gains
	return fft, gains
}

// apply filters x in blocks of chunk frames, each read with margin frames
// of context on both sides.
func (f *filter) apply(x []float32, chunk int) []float32 {
	out := make([]float32, len(x))
	m := f.spec.Margin
	for start := 0; start < len(x); start += chunk {
		end := min(start+chunk, len(x))
		lo := max(start-m, 0)
		hi := min(end+m, len(x))
		window := mirrorPad(x[lo:hi], m)
		y := f.filterWindow(window)
		offset := m + (start - lo)
		for i := start; i < end; i++ {
			out[i] = float32(y[offset+i-start])
		}
	}
	return out
}

// mirrorPad reflects pad samples at both ends to soften the wrap-around of
// the circular FFT.
func mirrorPad(x []float32, pad int) []float64 {
	n := len(x)
	out := make([]float64, n+2*pad)
	for i := range out {
		j := i - pad
		for j < 0 || j >= n {
			if n == 1 {
				j = 0
				break
			}
			if j < 0 {
				j = -j
			}
			if j >= n {
				j = 2*(n-1) - j
			}
		}
		out[i] = float64(x[j])
	}
	return out
}

func (f *filter) filterWindow(x []float64) []float64 {
	if len(x) < 2 {
		return make([]float64, len(x))
	}
	fft, gains := f.plan(len(x))
	coeff := fft.Coefficients(nil, x)
	for k := range coeff {
		coeff[k] *= complex(gains[k], 0)
	}
	y := fft.Sequence(nil, coeff)
	scale := 1 / float64(len(x))
	for i := range y {
		y[i] *= scale
	}
	return y
}
