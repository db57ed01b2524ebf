// SPDX-License-Identifier: MIT
package sampler

import (
	"errors"
	"fmt"

	"ampsim/internal/config"
)

var (
	ErrFactor         = errors.New("sampler: oversampling factor must be 1, 2, 4, 8 or 16")
	ErrBufferSize     = errors.New("sampler: invalid buffer size")
	ErrLengthMismatch = errors.New("sampler: input length does not match buffer size")
)

// ValidFactor reports whether f is a supported oversampling factor.
func ValidFactor(f int) bool {
	switch f {
	case 1, 2, 4, 8, 16:
		return true
	}
	return false
}

// Samplers pairs an up- and downsampler with the three working buffers of
// one driver block: base-rate input, oversampled, and base-rate output.
type Samplers struct {
	factor     int
	bufferSize int

	up   *Upsampler
	down *Downsampler

	input     []float32
	upsampled []float32
	output    []float32
}

// New builds converters and buffers for blocks of bufferSize frames.
func New(bufferSize, factor int) (*Samplers, error) {
	if !ValidFactor(factor) {
		return nil, fmt.Errorf("%w: %d", ErrFactor, factor)
	}
	s := &Samplers{factor: factor}
	if err := s.ResizeBuffers(bufferSize); err != nil {
		return nil, err
	}
	return s, nil
}

// ResizeBuffers rebuilds converters and buffers for a new block size.
// It is the only method that allocates.
func (s *Samplers) ResizeBuffers(n int) error {
	if n <= 0 || n > config.MaxBufferFrames {
		return fmt.Errorf("%w: %d (max %d)", ErrBufferSize, n, config.MaxBufferFrames)
	}

	up, err := NewUpsampler(s.factor)
	if err != nil {
		return err
	}
	down, err := NewDownsampler(s.factor)
	if err != nil {
		return err
	}

	s.up = up
	s.down = down
	s.bufferSize = n
	s.input = make([]float32, n)
	s.upsampled = make([]float32, n*s.factor)
	s.output = make([]float32, n)
	return nil
}

// Factor returns the oversampling factor.
func (s *Samplers) Factor() int { return s.factor }

// BufferSize returns the block size in base-rate frames.
func (s *Samplers) BufferSize() int { return s.bufferSize }

// Latency is the combined filter delay in base-rate samples.
func (s *Samplers) Latency() int {
	if s.factor == 1 {
		return 0
	}
	return (s.up.Delay() + s.down.Delay() + s.factor/2) / s.factor
}

// CopyInput loads one block of base-rate input.
func (s *Samplers) CopyInput(in []float32) error {
	if len(in) != s.bufferSize {
		return fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(in), s.bufferSize)
	}
	copy(s.input, in)
	return nil
}

// Upsample converts the loaded input and returns the oversampled block.
func (s *Samplers) Upsample() []float32 {
	n := s.up.Process(s.input, s.upsampled)
	return s.upsampled[:n]
}

// Upsampled exposes the oversampled buffer so stages can run in place.
func (s *Samplers) Upsampled() []float32 { return s.upsampled }

// Downsample converts the oversampled buffer back to the base rate.
func (s *Samplers) Downsample() []float32 {
	n := s.down.Process(s.upsampled, s.output)
	return s.output[:n]
}

// Reset clears both converters' filter state.
func (s *Samplers) Reset() {
	s.up.Reset()
	s.down.Reset()
}
