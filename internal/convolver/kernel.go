// SPDX-License-Identifier: MIT
package convolver

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Kernel runs zero-latency hybrid convolution of one ImpulseResponse.
//
// The head taps are applied directly per sample. The tail is applied by
// uniformly partitioned overlap-save FFT convolution: every PartitionSize
// input samples the last two partitions of input are transformed, multiplied
// against each tail partition spectrum with the matching delay from the
// history ring, and the valid half of the result is added to the output
// ring ahead of the read position. Because HeadLen equals PartitionSize the
// tail contribution lands exactly when the head stops covering it.
//
// A Kernel is not safe for concurrent use. It allocates only in NewKernel.
type Kernel struct {
	ir  *ImpulseResponse
	fft *fourier.FFT

	headRing []float32
	headPos  int

	inBuf   []float64 // previous partition followed by the current one
	inPos   int
	outBuf  []float64 // ring of pending tail output
	readPos int

	hist    [][]complex128 // input spectra, hist[histPos] is the newest
	histPos int

	spec []complex128
	acc  []complex128
	seq  []float64
}

// NewKernel allocates the convolution state for ir.
func NewKernel(ir *ImpulseResponse) *Kernel {
	k := &Kernel{
		ir:       ir,
		headRing: make([]float32, HeadLen),
	}

	if ir.NumTailPartitions > 0 {
		k.fft = fourier.NewFFT(FFTBlockSize)
		k.inBuf = make([]float64, FFTBlockSize)
		k.outBuf = make([]float64, FFTBlockSize)
		k.hist = make([][]complex128, ir.NumTailPartitions)
		for i := range k.hist {
			k.hist[i] = make([]complex128, spectrumBins)
		}
		k.spec = make([]complex128, spectrumBins)
		k.acc = make([]complex128, spectrumBins)
		k.seq = make([]float64, FFTBlockSize)
	}

	return k
}

// IR returns the impulse response the kernel convolves with.
func (k *Kernel) IR() *ImpulseResponse { return k.ir }

// Latency is the delay the kernel adds, in samples.
func (k *Kernel) Latency() int { return 0 }

// Reset clears all convolution history.
func (k *Kernel) Reset() {
	clear(k.headRing)
	k.headPos = 0
	clear(k.inBuf)
	clear(k.outBuf)
	k.inPos = 0
	k.readPos = 0
	for _, h := range k.hist {
		clear(h)
	}
	k.histPos = 0
}

// ProcessSample convolves one sample.
func (k *Kernel) ProcessSample(x float32) float32 {
	head := k.processHead(x)
	if k.ir.NumTailPartitions == 0 {
		return head
	}

	k.inBuf[PartitionSize+k.inPos] = float64(x)
	tail := k.outBuf[k.readPos]
	k.outBuf[k.readPos] = 0
	k.readPos = (k.readPos + 1) % FFTBlockSize

	k.inPos++
	if k.inPos == PartitionSize {
		k.partition()
		k.inPos = 0
	}

	return head + k.ir.TailMix*float32(tail)
}

// ProcessBlock convolves buf in place.
func (k *Kernel) ProcessBlock(buf []float32) {
	for i, x := range buf {
		buf[i] = k.ProcessSample(x)
	}
}

func (k *Kernel) processHead(x float32) float32 {
	k.headRing[k.headPos] = x

	var acc float32
	pos := k.headPos
	for _, h := range k.ir.Head {
		acc += h * k.headRing[pos]
		pos--
		if pos < 0 {
			pos = HeadLen - 1
		}
	}

	k.headPos++
	if k.headPos == HeadLen {
		k.headPos = 0
	}
	return acc
}

func (k *Kernel) partition() {
	parts := k.ir.NumTailPartitions

	k.fft.Coefficients(k.hist[k.histPos], k.inBuf)

	clear(k.acc)
	for j, tail := range k.ir.Tail {
		x := k.hist[(k.histPos-j+parts)%parts]
		for b := range k.acc {
			k.acc[b] += x[b] * tail[b]
		}
	}
	k.acc[0] = complex(real(k.acc[0]), 0)
	k.acc[spectrumBins-1] = complex(real(k.acc[spectrumBins-1]), 0)

	k.fft.Sequence(k.seq, k.acc)

	const scale = 1.0 / FFTBlockSize
	finite := true
	for i := PartitionSize; i < FFTBlockSize; i++ {
		v := k.seq[i] * scale
		if math.IsNaN(v) || math.IsInf(v, 0) {
			finite = false
			break
		}
		if math.Abs(v) < DenormalThreshold {
			v = 0
		}
		k.seq[i] = v
	}

	// The valid half of the block covers the next PartitionSize outputs,
	// offset by the head length. A non-finite block is dropped.
	if finite {
		base := k.readPos - PartitionSize + HeadLen
		for i := range PartitionSize {
			idx := (base + i + FFTBlockSize) % FFTBlockSize
			k.outBuf[idx] += k.seq[PartitionSize+i]
		}
	}

	k.histPos = (k.histPos + 1) % parts
	copy(k.inBuf[:PartitionSize], k.inBuf[PartitionSize:])
}
