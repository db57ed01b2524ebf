// SPDX-License-Identifier: MIT
/*
Package audio implements the real-time amp engine and its PortAudio driver.

Per buffer the engine applies at most one pending control message, then
either feeds the tuner (and emits silence) or runs the full pipeline:
oversample, stage chain, downsample, cabinet convolution, output copy and
an optional hand-off to the recorder. A {peak, pitch} snapshot is published
to the monitor at the end of every buffer.

Thread Safety:
  - Process runs on the driver thread only; it never allocates, locks or
    performs I/O once buffers are sized.
  - Everything else reaches the engine through control.Handle.
*/
package audio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"ampsim/internal/analysis"
	"ampsim/internal/chain"
	"ampsim/internal/config"
	"ampsim/internal/control"
	"ampsim/internal/convolver"
	"ampsim/internal/ir"
	"ampsim/internal/log"
	"ampsim/internal/monitor"
	"ampsim/internal/record"
	"ampsim/internal/sampler"
)

var (
	ErrLengthMismatch = errors.New("audio: buffer length does not match configuration")
	ErrRateMismatch   = errors.New("audio: downsampled block length differs from input")
	ErrIRRate         = errors.New("audio: IR library rate differs from the driver rate")
)

// Stats are counters maintained by the audio thread.
type Stats struct {
	Buffers  uint64 // buffers processed
	Applied  uint64 // control messages applied
	Rejected uint64 // control messages that could not be applied
	Failures uint64 // buffers replaced by silence after an error
	Short    uint64 // buffers whose downsampled block came up short
}

type Engine struct {
	cfg      *config.Config
	frames   int
	baseRate float64

	samplers *sampler.Samplers
	chain    *chain.Chain
	conv     *convolver.Convolver
	tuner    *analysis.PitchDetector
	tunerOn  bool
	rec      *record.Recorder

	// block holds the base-rate result handed to the convolver, output
	// and recorder.
	block []float32

	queue  *control.Queue
	slot   *control.ChainSlot
	handle *control.Handle
	meter  monitor.Meter

	buffers  atomic.Uint64
	applied  atomic.Uint64
	rejected atomic.Uint64
	failures atomic.Uint64
	short    atomic.Uint64
}

// NewEngine builds an engine for cfg. lib may be nil, in which case no
// cabinet IR can be selected. The cabinet runs after the downsampler, so lib
// must resample to the driver rate (see OpenLibrary).
func NewEngine(cfg *config.Config, lib *ir.Library) (*Engine, error) {
	frames := cfg.Audio.FramesPerBuffer
	baseRate := cfg.Audio.SampleRate
	workingRate := cfg.WorkingRate()

	if lib != nil && lib.TargetRate() != baseRate {
		return nil, fmt.Errorf("%w: library at %g Hz, driver at %g Hz", ErrIRRate, lib.TargetRate(), baseRate)
	}

	samplers, err := sampler.New(frames, cfg.Amp.Oversampling)
	if err != nil {
		return nil, err
	}

	c, err := chain.Build(cfg.Amp.Chain, workingRate)
	if err != nil {
		return nil, fmt.Errorf("audio: build chain: %w", err)
	}

	window, err := analysis.ParseWindowFunc(cfg.Amp.TunerWindow)
	if err != nil {
		return nil, err
	}
	tuner, err := analysis.NewPitchDetector(baseRate, analysis.WithWindow(window))
	if err != nil {
		return nil, err
	}

	// A nil *ir.Library must not become a non-nil interface.
	var (
		source   convolver.IRSource
		catalog  control.IRCatalog
		preparer control.KernelPreparer
	)
	if lib != nil {
		source = lib
		catalog = lib
	}

	conv := convolver.New(source,
		convolver.WithGain(cfg.Amp.IRGain),
		convolver.WithBypass(cfg.Amp.IRBypass),
	)
	if lib != nil {
		preparer = conv
	}

	irName := ""
	if cfg.Amp.IR != "" {
		if err := conv.SelectIR(cfg.Amp.IR); err != nil {
			log.Warnf("audio: initial IR %q not loaded, cabinet disabled: %v", cfg.Amp.IR, err)
		} else {
			irName = cfg.Amp.IR
		}
	}

	queue := control.NewQueue(cfg.Amp.CommandQueue)
	slot := control.NewChainSlot()
	handle := control.NewHandle(control.HandleConfig{
		BaseRate:    baseRate,
		Factor:      cfg.Amp.Oversampling,
		MaxFrames:   config.MaxBufferFrames,
		QueueBlocks: cfg.Recording.QueueBlocks,
		IRName:      irName,
		IRGain:      cfg.Amp.IRGain,
		IRBypass:    cfg.Amp.IRBypass,
		Channel:     c.Channel(),
		Channels:    c.Channels(),
	}, queue, slot, preparer, catalog)

	e := &Engine{
		cfg:      cfg,
		frames:   frames,
		baseRate: baseRate,
		samplers: samplers,
		chain:    c,
		conv:     conv,
		tuner:    tuner,
		block:    make([]float32, frames),
		queue:    queue,
		slot:     slot,
		handle:   handle,
	}

	log.Infof("audio: engine ready: %d frames at %.0f Hz, %dx oversampling (%d samples filter latency)",
		frames, baseRate, cfg.Amp.Oversampling, samplers.Latency())
	return e, nil
}

// Control returns the control-plane handle.
func (e *Engine) Control() *control.Handle { return e.handle }

// Monitor returns a read-only view of the latest snapshot.
func (e *Engine) Monitor() monitor.Reader { return e.meter.Reader() }

// Frames returns the current buffer size in frames.
func (e *Engine) Frames() int { return e.frames }

// SampleRate returns the driver sample rate.
func (e *Engine) SampleRate() float64 { return e.baseRate }

// Latency returns the resampling filter delay in base-rate samples. The
// convolver itself adds none.
func (e *Engine) Latency() int { return e.samplers.Latency() }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Buffers:  e.buffers.Load(),
		Applied:  e.applied.Load(),
		Rejected: e.rejected.Load(),
		Failures: e.failures.Load(),
		Short:    e.short.Load(),
	}
}

// ResizeBuffers handles a driver buffer-size change. It allocates and must
// not run concurrently with Process.
func (e *Engine) ResizeBuffers(n int) error {
	if err := e.samplers.ResizeBuffers(n); err != nil {
		return err
	}
	e.frames = n
	e.block = make([]float32, n)
	log.Infof("audio: buffers resized to %d frames", n)
	return nil
}

// Process runs one driver buffer. input holds the mono input, output is
// either mono (len n) or interleaved stereo (len 2n) with both channels
// identical.
//
// Performance Critical (Hot Path):
//   - No allocations, locks or I/O
//   - At most one control message applied per call
func (e *Engine) Process(input, output []float32) error {
	n := e.frames
	if len(input) != n || (len(output) != n && len(output) != 2*n) {
		return ErrLengthMismatch
	}
	e.buffers.Add(1)

	e.drain()

	if e.tunerOn {
		pitch := e.tuner.Feed(input)
		clear(output)
		e.meter.Publish(monitor.Snapshot{Peak: peak(input), Pitch: pitch})
		return nil
	}

	if err := e.samplers.CopyInput(input); err != nil {
		return ErrLengthMismatch
	}
	up := e.samplers.Upsample()
	e.chain.ProcessBlock(up)
	down := e.samplers.Downsample()

	var err error
	blk := e.block
	copy(blk, down)
	if len(down) != n {
		clear(blk[len(down):])
		e.short.Add(1)
		err = ErrRateMismatch
	}

	e.conv.ProcessBlock(blk)

	if len(output) == n {
		copy(output, blk)
	} else {
		for i, v := range blk {
			output[2*i] = v
			output[2*i+1] = v
		}
	}

	if e.rec != nil {
		e.rec.Push(blk)
	}

	e.meter.Publish(monitor.Snapshot{Peak: peak(blk)})
	return err
}

// drain applies at most one pending message. A pending chain replacement
// and a queued command compete in a single select.
func (e *Engine) drain() {
	select {
	case c := <-e.slot.C():
		e.installChain(c)
	case cmd := <-e.queue.C():
		e.apply(cmd)
	default:
	}
}

func (e *Engine) installChain(c *chain.Chain) {
	if c == nil || c.SampleRate() != e.workingRate() {
		e.rejected.Add(1)
		return
	}
	e.chain = c
	e.applied.Add(1)
}

func (e *Engine) workingRate() float64 {
	return e.baseRate * float64(e.samplers.Factor())
}

func (e *Engine) apply(cmd control.Command) {
	ok := true

	switch cmd.Kind {
	case control.ReplaceChain:
		e.installChain(cmd.Chain)
		return
	case control.StartRecording:
		ok = cmd.Recorder != nil
		if ok {
			e.rec = cmd.Recorder
		}
	case control.StopRecording:
		e.rec = nil
	case control.InstallIR:
		ok = cmd.Kernel != nil
		if ok {
			e.conv.Install(cmd.Kernel)
		}
	case control.SetBypass:
		e.conv.SetBypass(cmd.Flag)
	case control.SetIRGain:
		ok = cmd.Value >= 0 && cmd.Value <= 1
		if ok {
			_ = e.conv.SetGain(cmd.Value)
		}
	case control.SetTuner:
		if cmd.Flag && !e.tunerOn {
			e.tuner.Reset()
		}
		e.tunerOn = cmd.Flag
	case control.SetChannel:
		// Checked first so an unknown id does not build an error value.
		_, ok = e.chain.Route(cmd.Channel)
		if ok {
			_ = e.chain.SetChannel(cmd.Channel)
		}
	default:
		ok = false
	}

	if ok {
		e.applied.Add(1)
	} else {
		e.rejected.Add(1)
	}
}

func peak(buf []float32) float32 {
	var p float32
	for _, v := range buf {
		p = max(p, v, -v)
	}
	return p
}
