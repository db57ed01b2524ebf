// SPDX-License-Identifier: MIT

// Package monitor carries the engine's latest level and pitch readings from
// the audio thread to any number of readers without locks.
package monitor

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Snapshot is one reading published by the engine.
type Snapshot struct {
	Peak  float32 // absolute peak of the last output block, linear
	Pitch float32 // detected fundamental in Hz, 0 when none
}

// PeakDB returns the peak in dBFS, or -Inf for silence.
func (s Snapshot) PeakDB() float64 {
	if s.Peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(s.Peak))
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note returns the nearest equal-tempered note (A4 = 440 Hz), e.g. "E2",
// and the deviation from it in cents. ok is false without a pitch.
func (s Snapshot) Note() (name string, cents float64, ok bool) {
	if s.Pitch <= 0 || math.IsNaN(float64(s.Pitch)) || math.IsInf(float64(s.Pitch), 0) {
		return "", 0, false
	}

	semis := 12 * math.Log2(float64(s.Pitch)/440)
	nearest := math.Round(semis)
	cents = (semis - nearest) * 100

	midi := int(nearest) + 69
	octave := midi/12 - 1
	idx := midi % 12
	if idx < 0 {
		idx += 12
		octave--
	}
	return fmt.Sprintf("%s%d", noteNames[idx], octave), cents, true
}

// Meter is a single-writer, many-reader cell holding the latest Snapshot.
// Both fields are packed into one word so readers never see a torn pair.
type Meter struct {
	v atomic.Uint64
}

// Publish stores s. It never blocks and does not allocate.
func (m *Meter) Publish(s Snapshot) {
	m.v.Store(uint64(math.Float32bits(s.Peak))<<32 | uint64(math.Float32bits(s.Pitch)))
}

// Load returns the latest Snapshot.
func (m *Meter) Load() Snapshot {
	v := m.v.Load()
	return Snapshot{
		Peak:  math.Float32frombits(uint32(v >> 32)),
		Pitch: math.Float32frombits(uint32(v)),
	}
}

// Reader returns a read-only view of m.
func (m *Meter) Reader() Reader { return Reader{m: m} }

// Reader is the read side handed to the UI and transports.
type Reader struct {
	m *Meter
}

// Load returns the latest Snapshot, or the zero Snapshot for a zero Reader.
func (r Reader) Load() Snapshot {
	if r.m == nil {
		return Snapshot{}
	}
	return r.m.Load()
}
