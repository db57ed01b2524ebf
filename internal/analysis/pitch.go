// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"ampsim/pkg/bitint"
)

const (
	// Default detection range covers a drop-tuned low string up to the
	// top frets of the high E.
	DefaultMinFrequency = 40.0
	DefaultMaxFrequency = 1200.0

	// Frames below this RMS are treated as silence.
	silenceRMS = 1e-3
	// Minimum normalized autocorrelation of an accepted period.
	minClarity = 0.6
	// A shorter lag wins if its peak is within this fraction of the best.
	octaveTolerance = 0.9
)

var ErrPitchRange = errors.New("analysis: invalid pitch detection range")

// PitchDetector estimates the fundamental of a monophonic signal from the
// windowed autocorrelation, computed with a zero-padded FFT. Dividing by the
// window's own autocorrelation removes the window's taper from the lag
// curve.
//
// Feed and Detect do not allocate. A PitchDetector is not safe for
// concurrent use.
type PitchDetector struct {
	sampleRate float64
	size       int // analysis frame length
	hop        int
	minLag     int
	maxLag     int

	fft     *fourier.FFT // 2*size points
	window  []float64
	winCorr []float64 // window autocorrelation, normalized to 1 at lag 0

	ring    []float32
	ringPos int
	pending int

	frame  []float64
	spec   []complex128
	corr   []float64
	linear []float32

	pitch float32
}

// PitchOption configures a PitchDetector.
type PitchOption func(*pitchConfig)

type pitchConfig struct {
	minFreq, maxFreq float64
	window           WindowFunc
}

// WithRange limits detection to [minHz, maxHz].
func WithRange(minHz, maxHz float64) PitchOption {
	return func(c *pitchConfig) {
		c.minFreq = minHz
		c.maxFreq = maxHz
	}
}

// WithWindow selects the analysis window.
func WithWindow(w WindowFunc) PitchOption {
	return func(c *pitchConfig) { c.window = w }
}

// NewPitchDetector sizes the analysis frame to hold three periods of the
// lowest detectable frequency.
func NewPitchDetector(sampleRate float64, opts ...PitchOption) (*PitchDetector, error) {
	cfg := pitchConfig{minFreq: DefaultMinFrequency, maxFreq: DefaultMaxFrequency, window: Hann}
	for _, opt := range opts {
		opt(&cfg)
	}

	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("analysis: sample rate must be positive, got %f", sampleRate)
	}
	if cfg.minFreq <= 0 || cfg.maxFreq <= cfg.minFreq || cfg.maxFreq >= sampleRate/2 {
		return nil, fmt.Errorf("%w: [%g, %g] Hz at %g Hz", ErrPitchRange, cfg.minFreq, cfg.maxFreq, sampleRate)
	}

	minLag := int(math.Floor(sampleRate / cfg.maxFreq))
	maxLag := int(math.Ceil(sampleRate / cfg.minFreq))
	size := bitint.NextPowerOfTwo(3 * maxLag)

	p := &PitchDetector{
		sampleRate: sampleRate,
		size:       size,
		hop:        size / 4,
		minLag:     max(minLag, 2),
		maxLag:     maxLag,
		fft:        fourier.NewFFT(2 * size),
		window:     windowCoefficients(size, cfg.window),
		ring:       make([]float32, size),
		frame:      make([]float64, 2*size),
		spec:       make([]complex128, size+1),
		corr:       make([]float64, 2*size),
		linear:     make([]float32, size),
	}

	// Autocorrelation of the window itself.
	copy(p.frame, p.window)
	p.autocorrelate()
	p.winCorr = make([]float64, maxLag+2)
	for i := range p.winCorr {
		p.winCorr[i] = p.corr[i] / p.corr[0]
	}

	return p, nil
}

// FrameSize returns the analysis frame length in samples.
func (p *PitchDetector) FrameSize() int { return p.size }

// Pitch returns the most recent estimate in Hz, 0 when none.
func (p *PitchDetector) Pitch() float32 { return p.pitch }

// Reset discards buffered audio and the last estimate.
func (p *PitchDetector) Reset() {
	clear(p.ring)
	p.ringPos = 0
	p.pending = 0
	p.pitch = 0
}

// Feed appends block to the analysis history and re-estimates the pitch
// every quarter frame. It returns the current estimate.
func (p *PitchDetector) Feed(block []float32) float32 {
	for _, x := range block {
		p.ring[p.ringPos] = x
		p.ringPos++
		if p.ringPos == p.size {
			p.ringPos = 0
		}
	}

	p.pending += len(block)
	if p.pending >= p.hop {
		p.pending = 0
		n := copy(p.linear, p.ring[p.ringPos:])
		copy(p.linear[n:], p.ring[:p.ringPos])
		p.pitch = p.Detect(p.linear)
	}
	return p.pitch
}

// Detect estimates the pitch of frame, using at most FrameSize samples
// from its end. It returns 0 for silence or an aperiodic frame.
func (p *PitchDetector) Detect(frame []float32) float32 {
	if len(frame) > p.size {
		frame = frame[len(frame)-p.size:]
	}
	if len(frame) < 2*p.maxLag {
		return 0
	}

	var mean float64
	for _, x := range frame {
		mean += float64(x)
	}
	mean /= float64(len(frame))

	var energy float64
	clear(p.frame)
	for i, x := range frame {
		v := float64(x) - mean
		energy += v * v
		p.frame[i] = v * p.window[i]
	}
	if math.Sqrt(energy/float64(len(frame))) < silenceRMS {
		return 0
	}

	p.autocorrelate()
	r0 := p.corr[0]
	if r0 <= 0 {
		return 0
	}

	norm := func(lag int) float64 {
		return p.corr[lag] / r0 / p.winCorr[lag]
	}

	best := math.Inf(-1)
	for lag := p.minLag; lag <= p.maxLag; lag++ {
		best = math.Max(best, norm(lag))
	}
	if best < minClarity {
		return 0
	}

	for lag := p.minLag; lag <= p.maxLag; lag++ {
		b := norm(lag)
		if b < octaveTolerance*best {
			continue
		}
		a, c := norm(lag-1), norm(lag+1)
		if b < a || b < c {
			continue
		}

		period := float64(lag)
		if d := a - 2*b + c; d != 0 {
			period += 0.5 * (a - c) / d
		}
		return float32(p.sampleRate / period)
	}
	return 0
}

// autocorrelate computes the linear autocorrelation of p.frame into p.corr.
func (p *PitchDetector) autocorrelate() {
	p.fft.Coefficients(p.spec, p.frame)
	for i, c := range p.spec {
		re, im := real(c), imag(c)
		p.spec[i] = complex(re*re+im*im, 0)
	}
	p.fft.Sequence(p.corr, p.spec)
}
