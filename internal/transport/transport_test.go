// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"ampsim/internal/monitor"
	"ampsim/pkg/utils"
)

// fixedSource always returns the same snapshot and counts reads.
type fixedSource struct {
	snap  monitor.Snapshot
	reads atomic.Int64
}

func (f *fixedSource) Load() monitor.Snapshot {
	f.reads.Add(1)
	return f.snap
}

func TestNewMessage(t *testing.T) {
	now := time.Unix(1700000000, 5)

	tests := []struct {
		name     string
		snap     monitor.Snapshot
		wantDB   float64
		wantNote string
	}{
		{"silence", monitor.Snapshot{}, silenceDB, ""},
		{"full scale", monitor.Snapshot{Peak: 1}, 0, ""},
		{"tuned A2", monitor.Snapshot{Peak: 0.5, Pitch: 110}, -6.02, "A2"},
		{"low E", monitor.Snapshot{Peak: 0.1, Pitch: 82.41}, -20, "E2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMessage(7, now, tt.snap)
			if m.Seq != 7 || m.Time != now.UnixNano() {
				t.Errorf("header = %d/%d", m.Seq, m.Time)
			}
			if d := m.PeakDB - tt.wantDB; d > 0.01 || d < -0.01 {
				t.Errorf("PeakDB = %g, want %g", m.PeakDB, tt.wantDB)
			}
			if m.Note != tt.wantNote {
				t.Errorf("Note = %q, want %q", m.Note, tt.wantNote)
			}
			if _, err := json.Marshal(m); err != nil {
				t.Errorf("marshal: %v", err)
			}
		})
	}
}

func TestPumpSendsSnapshots(t *testing.T) {
	src := &fixedSource{snap: monitor.Snapshot{Peak: 0.25, Pitch: 220}}
	out := &utils.MockTransport{}

	p, err := NewPump(time.Millisecond, src, out)
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	p.Start() // no-op while running

	deadline := time.Now().Add(5 * time.Second)
	for out.Count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d messages sent", out.Count())
		}
		time.Sleep(time.Millisecond)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !out.Closed() {
		t.Error("transport not closed")
	}

	sent := out.Count()
	time.Sleep(10 * time.Millisecond)
	if out.Count() != sent {
		t.Error("pump kept sending after Stop")
	}

	m, ok := out.Sent[0].(Message)
	if !ok {
		t.Fatalf("sent %T, want Message", out.Sent[0])
	}
	if m.Seq != 1 || m.Note != "A3" || m.Peak != 0.25 {
		t.Errorf("first message = %+v", m)
	}
	last := out.Last().(Message)
	if last.Seq != uint32(sent) {
		t.Errorf("last seq = %d, want %d", last.Seq, sent)
	}
}

func TestPumpValidation(t *testing.T) {
	if _, err := NewPump(time.Second, nil, &utils.MockTransport{}); err == nil {
		t.Error("nil source accepted")
	}
	if _, err := NewPump(time.Second, &fixedSource{}, nil); err == nil {
		t.Error("nil transport accepted")
	}
	p, err := NewPump(0, &fixedSource{}, &utils.MockTransport{})
	if err != nil {
		t.Fatal(err)
	}
	if p.interval != DefaultInterval {
		t.Errorf("interval = %s", p.interval)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on stopped pump: %v", err)
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	if err := lt.Send(NewMessage(1, time.Now(), monitor.Snapshot{Peak: 1})); err != nil {
		t.Error(err)
	}
	if err := lt.Send("anything"); err != nil {
		t.Error(err)
	}
	if err := lt.Close(); err != nil {
		t.Error(err)
	}
}
