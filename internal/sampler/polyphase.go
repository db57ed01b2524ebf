// SPDX-License-Identifier: MIT
package sampler

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/resample"
)

// Taps per polyphase branch of the anti-imaging/anti-aliasing filters.
const tapsPerPhase = 16

// Upsampler raises the rate by an integer factor with a polyphase FIR.
// Process does not allocate.
type Upsampler struct {
	factor int
	phases [][]float32 // phases[p][k] = prototype[p + k*factor]
	hist   []float32   // last len(phases[0]) inputs, hist[0] newest
}

// NewUpsampler designs the interpolation filter for factor.
func NewUpsampler(factor int) (*Upsampler, error) {
	u := &Upsampler{factor: factor}
	if factor == 1 {
		return u, nil
	}

	r, err := resample.NewRational(factor, 1, resample.WithTapsPerPhase(tapsPerPhase))
	if err != nil {
		return nil, fmt.Errorf("sampler: design upsampler x%d: %w", factor, err)
	}
	proto := r.Prototype()

	u.phases = make([][]float32, factor)
	for p := range factor {
		for i := p; i < len(proto); i += factor {
			u.phases[p] = append(u.phases[p], float32(proto[i]))
		}
	}
	u.hist = make([]float32, len(u.phases[0]))
	return u, nil
}

// Factor returns the conversion factor.
func (u *Upsampler) Factor() int { return u.factor }

// Delay is the filter group delay in output samples.
func (u *Upsampler) Delay() int {
	if u.factor == 1 {
		return 0
	}
	return (len(u.hist)*u.factor - 1) / 2
}

// Reset clears the filter history.
func (u *Upsampler) Reset() { clear(u.hist) }

// Process writes len(in)*factor samples to out and returns how many were
// written. out must hold at least that many.
func (u *Upsampler) Process(in, out []float32) int {
	if u.factor == 1 {
		return copy(out, in)
	}

	n := 0
	for _, x := range in {
		copy(u.hist[1:], u.hist[:len(u.hist)-1])
		u.hist[0] = x

		for _, phase := range u.phases {
			var acc float32
			for k, c := range phase {
				acc += c * u.hist[k]
			}
			out[n] = acc
			n++
		}
	}
	return n
}

// Downsampler lowers the rate by an integer factor: anti-alias FIR, then
// keep every factor-th sample. Process does not allocate.
type Downsampler struct {
	factor int
	taps   []float32
	hist   []float32 // ring of the last len(taps) inputs
	pos    int
	skip   int // inputs to consume before the next output
}

// NewDownsampler designs the decimation filter for factor.
func NewDownsampler(factor int) (*Downsampler, error) {
	d := &Downsampler{factor: factor}
	if factor == 1 {
		return d, nil
	}

	r, err := resample.NewRational(1, factor, resample.WithTapsPerPhase(tapsPerPhase*factor))
	if err != nil {
		return nil, fmt.Errorf("sampler: design downsampler /%d: %w", factor, err)
	}
	proto := r.Prototype()

	d.taps = make([]float32, len(proto))
	for i, v := range proto {
		d.taps[i] = float32(v)
	}
	d.hist = make([]float32, len(d.taps))
	d.skip = factor - 1
	return d, nil
}

// Factor returns the conversion factor.
func (d *Downsampler) Factor() int { return d.factor }

// Delay is the filter group delay in input samples.
func (d *Downsampler) Delay() int {
	if d.factor == 1 {
		return 0
	}
	return (len(d.taps) - 1) / 2
}

// Reset clears the filter history and decimation phase.
func (d *Downsampler) Reset() {
	clear(d.hist)
	d.pos = 0
	d.skip = d.factor - 1
}

// Process writes one output per factor inputs and returns the count.
func (d *Downsampler) Process(in, out []float32) int {
	if d.factor == 1 {
		return copy(out, in)
	}

	n := 0
	size := len(d.hist)
	for _, x := range in {
		d.hist[d.pos] = x
		d.pos++
		if d.pos == size {
			d.pos = 0
		}

		if d.skip > 0 {
			d.skip--
			continue
		}
		d.skip = d.factor - 1

		var acc float32
		idx := d.pos
		for k := range d.taps {
			idx--
			if idx < 0 {
				idx = size - 1
			}
			acc += d.taps[k] * d.hist[idx]
		}
		out[n] = acc
		n++
	}
	return n
}
