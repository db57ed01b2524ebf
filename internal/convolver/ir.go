// SPDX-License-Identifier: MIT
package convolver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"ampsim/internal/log"
)

const (
	// HeadLen is the number of leading IR taps convolved directly.
	HeadLen = 128
	// PartitionSize is the length of each FFT-convolved tail chunk.
	PartitionSize = 128
	// FFTBlockSize is the transform length: two partitions.
	FFTBlockSize = 2 * PartitionSize
	// MaxTailPartitions caps the tail; longer IRs are truncated.
	MaxTailPartitions = 256
	// DenormalThreshold is the magnitude below which tail samples flush to 0.
	DenormalThreshold = 1e-30
	// DCBlockR is the pole of the output DC blocker.
	DCBlockR = 0.995

	spectrumBins = FFTBlockSize/2 + 1

	// Tail partition count up to which the tail is mixed at unity.
	tailMixKnee  = 16
	minTailMix   = 0.5
	maxIRSamples = HeadLen + MaxTailPartitions*PartitionSize
)

var (
	ErrEmptyImpulseResponse = errors.New("convolver: empty impulse response")
	ErrNonFinite            = errors.New("convolver: impulse response contains non-finite samples")
)

// ImpulseResponse is a cabinet IR split for hybrid convolution: a short
// time-domain head and the frequency-domain spectra of each tail partition.
// It is immutable once built.
type ImpulseResponse struct {
	Name              string
	Head              []float32
	Tail              [][]complex128
	NumTailPartitions int
	OriginalLength    int
	TailMix           float32
	Truncated         bool
}

// NewImpulseResponse splits samples into head and tail partitions and
// transforms the tail. Tails longer than MaxTailPartitions are truncated.
func NewImpulseResponse(name string, samples []float32) (*ImpulseResponse, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyImpulseResponse
	}
	for i, v := range samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: sample %d", ErrNonFinite, i)
		}
	}

	ir := &ImpulseResponse{
		Name:           name,
		Head:           make([]float32, HeadLen),
		OriginalLength: len(samples),
		TailMix:        1,
	}
	copy(ir.Head, samples)

	if len(samples) <= HeadLen {
		return ir, nil
	}

	tail := samples[HeadLen:]
	k := (len(tail) + PartitionSize - 1) / PartitionSize
	if k > MaxTailPartitions {
		log.Warnf("convolver: IR %q has %d tail partitions, truncating to %d (%d of %d samples kept)",
			name, k, MaxTailPartitions, maxIRSamples, len(samples))
		k = MaxTailPartitions
		tail = tail[:MaxTailPartitions*PartitionSize]
		ir.Truncated = true
	}

	fft := fourier.NewFFT(FFTBlockSize)
	padded := make([]float64, FFTBlockSize)

	ir.Tail = make([][]complex128, k)
	for j := range k {
		clear(padded)
		chunk := tail[j*PartitionSize : min((j+1)*PartitionSize, len(tail))]
		for i, v := range chunk {
			padded[i] = float64(v)
		}
		ir.Tail[j] = fft.Coefficients(make([]complex128, spectrumBins), padded)
	}

	ir.NumTailPartitions = k
	ir.TailMix = tailMix(k)
	return ir, nil
}

// tailMix attenuates long tails, which otherwise dominate the dry head.
func tailMix(partitions int) float32 {
	if partitions <= tailMixKnee {
		return 1
	}
	return float32(math.Max(minTailMix, math.Sqrt(float64(tailMixKnee)/float64(partitions))))
}
