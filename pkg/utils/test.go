// SPDX-License-Identifier: MIT
// Package utils holds signal generators and reference helpers shared by the
// package tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records everything sent to it instead of transmitting.
type MockTransport struct {
	mu     sync.Mutex
	Sent   []any
	Fail   error
	closed bool
}

// Send stores the data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Sent = append(m.Sent, data)
	return nil
}

// Close marks the transport closed; later sends are still recorded.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Last returns the most recent stored send, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return m.Sent[len(m.Sent)-1]
}

// Count returns the number of stored sends.
func (m *MockTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// GenerateComplexWave returns a plucked-string-like tone: a 110Hz fundamental
// with decaying harmonics at the given amplitude.
func GenerateComplexWave(size int, sampleRate float64, amplitude float32) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*110*tm)*0.6 +
			math.Sin(2*math.Pi*220*tm)*0.25 +
			math.Sin(2*math.Pi*330*tm)*0.1 +
			math.Sin(2*math.Pi*440*tm)*0.05
		buffer[i] = float32(signal) * amplitude
	}
	return buffer
}

// GenerateSineWave returns size samples of a sine at frequency Hz.
func GenerateSineWave(size int, sampleRate, frequency float64, amplitude float32) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t)) * amplitude
	}
	return buffer
}

// Impulse returns a unit impulse at index 0 followed by size-1 zeros.
func Impulse(size int) []float32 {
	buffer := make([]float32, size)
	if size > 0 {
		buffer[0] = 1
	}
	return buffer
}

// RMS returns the root mean square of buffer.
func RMS(buffer []float32) float64 {
	if len(buffer) == 0 {
		return 0
	}
	var sum float64
	for _, v := range buffer {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(buffer)))
}

// Peak returns the largest absolute sample value in buffer.
func Peak(buffer []float32) float32 {
	var peak float32
	for _, v := range buffer {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// DirectConvolve computes the first len(x) samples of x * h by brute force.
func DirectConvolve(x, h []float32) []float64 {
	out := make([]float64, len(x))
	for n := range x {
		var acc float64
		for k := 0; k < len(h) && k <= n; k++ {
			acc += float64(h[k]) * float64(x[n-k])
		}
		out[n] = acc
	}
	return out
}
