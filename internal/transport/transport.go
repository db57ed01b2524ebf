// SPDX-License-Identifier: MIT

// Package transport publishes monitor snapshots to clients outside the
// process. Publishers poll a SnapshotSource at their own cadence; nothing
// here is called from the audio thread.
package transport

import (
	"math"
	"time"

	"ampsim/internal/monitor"
)

// silenceDB replaces -Inf peaks, which JSON cannot carry.
const silenceDB = -120.0

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// SnapshotSource is the read side of the monitor. monitor.Reader
// satisfies it.
type SnapshotSource interface {
	Load() monitor.Snapshot
}

// Message is the JSON form of one snapshot.
type Message struct {
	Seq    uint32  `json:"seq"`
	Time   int64   `json:"time"` // Unix nanoseconds
	Peak   float32 `json:"peak"`
	PeakDB float64 `json:"peak_db"`
	Pitch  float32 `json:"pitch"`
	Note   string  `json:"note,omitempty"`
	Cents  float64 `json:"cents,omitempty"`
}

// NewMessage derives the display fields of s.
func NewMessage(seq uint32, t time.Time, s monitor.Snapshot) Message {
	m := Message{
		Seq:    seq,
		Time:   t.UnixNano(),
		Peak:   s.Peak,
		PeakDB: max(s.PeakDB(), silenceDB),
		Pitch:  s.Pitch,
	}
	if math.IsNaN(m.PeakDB) {
		m.PeakDB = silenceDB
	}
	if name, cents, ok := s.Note(); ok {
		m.Note = name
		m.Cents = math.Round(cents*10) / 10
	}
	return m
}
