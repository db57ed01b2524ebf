// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"ampsim/internal/config"
	"ampsim/internal/log"

	"github.com/gordonklaus/portaudio"
)

var ErrStreamFailed = errors.New("audio: too many consecutive callback failures")

// StreamError is delivered by Stream.Failed. It matches ErrStreamFailed and
// the error of the last failed callback.
type StreamError struct {
	Failures int
	Cause    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%v (%d in a row, last: %v)", ErrStreamFailed, e.Failures, e.Cause)
}

func (e *StreamError) Unwrap() []error { return []error{ErrStreamFailed, e.Cause} }

// Stream drives an Engine from a PortAudio duplex stream: one mono input
// channel, one or two output channels.
type Stream struct {
	engine *Engine
	cfg    config.AudioConfig

	input       *portaudio.DeviceInfo
	output      *portaudio.DeviceInfo
	inLatency   time.Duration
	outLatency  time.Duration
	stream      *portaudio.Stream
	maxFailures int
	process     func(in, out []float32) error

	// Touched only by the callback. failure is allocated up front and
	// filled in once, when the threshold is first reached.
	consecutive int
	failure     *StreamError

	failed chan error
}

func newStream(e *Engine, cfg config.AudioConfig) *Stream {
	return &Stream{
		engine:      e,
		cfg:         cfg,
		maxFailures: max(cfg.MaxConsecutiveFailures, 1),
		process:     e.Process,
		failure:     &StreamError{},
		failed:      make(chan error, 1),
	}
}

// OpenStream resolves the configured devices and opens a duplex stream
// calling e.Process. PortAudio must be initialized.
func OpenStream(e *Engine, cfg config.AudioConfig) (*Stream, error) {
	in, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	out, err := OutputDevice(cfg.OutputDevice)
	if err != nil {
		return nil, err
	}

	s := newStream(e, cfg)
	s.input = in
	s.output = out
	if cfg.LowLatency {
		s.inLatency = in.DefaultLowInputLatency
		s.outLatency = out.DefaultLowOutputLatency
	} else {
		s.inLatency = in.DefaultHighInputLatency
		s.outLatency = out.DefaultHighOutputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   in,
			Latency:  s.inLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: cfg.OutputChannels,
			Device:   out,
			Latency:  s.outLatency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.onBuffer)
	if err != nil {
		return nil, fmt.Errorf("audio: open stream: %w", err)
	}
	s.stream = stream

	log.Infof("audio: stream %q -> %q, %d frames, latency in %s out %s",
		in.Name, out.Name, cfg.FramesPerBuffer, s.inLatency, s.outLatency)
	return s, nil
}

// Start begins processing.
func (s *Stream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("audio: start stream: %w", err)
	}
	return nil
}

// Stop halts processing. The stream can be started again.
func (s *Stream) Stop() error {
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("audio: stop stream: %w", err)
	}
	return nil
}

// Close releases the stream.
func (s *Stream) Close() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

// Failed delivers one *StreamError once MaxConsecutiveFailures callbacks in
// a row have failed. The owner should stop the stream.
func (s *Stream) Failed() <-chan error { return s.failed }

// onBuffer is the PortAudio callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (s *Stream) onBuffer(in, out []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.callback(in, out)
}

// callback keeps the block on ErrRateMismatch: the engine already produced
// it with a zero-filled tail.
func (s *Stream) callback(in, out []float32) {
	err := s.process(in, out)
	if err == nil || errors.Is(err, ErrRateMismatch) {
		s.consecutive = 0
		return
	}

	clear(out)
	s.engine.failures.Add(1)
	s.consecutive++
	if s.consecutive == s.maxFailures && s.failure.Cause == nil {
		s.failure.Failures = s.consecutive
		s.failure.Cause = err
		s.failed <- s.failure
	}
}
