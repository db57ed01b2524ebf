// SPDX-License-Identifier: MIT
package control

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"ampsim/internal/chain"
	"ampsim/internal/convolver"
	"ampsim/internal/log"
	"ampsim/internal/record"
)

var (
	ErrAlreadyRecording = errors.New("control: already recording")
	ErrNotRecording     = errors.New("control: not recording")
	ErrNoIRs            = errors.New("control: no impulse responses available")
)

// KernelPreparer builds convolution kernels off the audio thread.
type KernelPreparer interface {
	Prepare(name string) (*convolver.Kernel, error)
}

// IRCatalog lists selectable impulse responses.
type IRCatalog interface {
	Names() []string
	Next(current string) (string, bool)
}

// HandleConfig describes the engine a Handle controls.
type HandleConfig struct {
	BaseRate    float64
	Factor      int
	MaxFrames   int // longest block the engine can hand to a recorder
	QueueBlocks int // recorder queue depth

	// State the engine starts with.
	IRName   string
	IRGain   float32
	IRBypass bool
	Channel  int
	Channels []int // channel ids defined by the starting chain
}

// Handle is the control-plane API. Its methods may be called from any
// goroutine; they prepare everything expensive before sending and never
// wait on the audio thread.
type Handle struct {
	cfg      HandleConfig
	queue    *Queue
	slot     *ChainSlot
	preparer KernelPreparer
	catalog  IRCatalog

	// Last requested state, for toggles.
	bypass  atomic.Bool
	tuner   atomic.Bool
	channel atomic.Int64

	mu       sync.Mutex
	rec      *record.Recorder
	irName   string
	gain     float32
	channels []int
}

// NewHandle returns a Handle sending through queue and slot. preparer and
// catalog may be nil when IR selection is not available.
func NewHandle(cfg HandleConfig, queue *Queue, slot *ChainSlot, preparer KernelPreparer, catalog IRCatalog) *Handle {
	h := &Handle{
		cfg:      cfg,
		queue:    queue,
		slot:     slot,
		preparer: preparer,
		catalog:  catalog,
		irName:   cfg.IRName,
		gain:     cfg.IRGain,
		channels: slices.Clone(cfg.Channels),
	}
	h.bypass.Store(cfg.IRBypass)
	h.channel.Store(int64(cfg.Channel))
	return h
}

// WorkingRate is the oversampled rate stages must be built for.
func (h *Handle) WorkingRate() float64 { return h.cfg.BaseRate * float64(h.cfg.Factor) }

// BaseRate is the driver sample rate.
func (h *Handle) BaseRate() float64 { return h.cfg.BaseRate }

// ReplaceChain offers c to the audio thread. It returns false when another
// replacement is still pending; c is then discarded. On success the
// channel set and active channel follow c.
func (h *Handle) ReplaceChain(c *chain.Chain) bool {
	ok := h.slot.Publish(c)
	if !ok {
		log.Warnf("control: chain replacement dropped, previous one still pending")
		return false
	}
	if c != nil {
		h.mu.Lock()
		h.channels = c.Channels()
		h.mu.Unlock()
		h.channel.Store(int64(c.Channel()))
	}
	return true
}

// BuildChain builds spec at the working rate and offers it to the audio
// thread.
func (h *Handle) BuildChain(spec chain.Spec) error {
	c, err := chain.Build(spec, h.WorkingRate())
	if err != nil {
		return err
	}
	if !h.ReplaceChain(c) {
		return fmt.Errorf("%w: chain replacement pending", ErrQueueFull)
	}
	return nil
}

// SelectIR loads and builds name, then asks the audio thread to install it.
// On any error the current IR stays in place.
func (h *Handle) SelectIR(name string) error {
	if h.preparer == nil {
		return ErrNoIRs
	}
	k, err := h.preparer.Prepare(name)
	if err != nil {
		return err
	}
	if err := h.queue.TrySend(Command{Kind: InstallIR, Kernel: k}); err != nil {
		return err
	}

	h.mu.Lock()
	h.irName = name
	h.mu.Unlock()
	if k.IR().Truncated {
		log.Warnf("control: %s truncated to %d tail partitions", name, convolver.MaxTailPartitions)
	}
	return nil
}

// NextIR selects the IR after the current one.
func (h *Handle) NextIR() (string, error) {
	if h.catalog == nil {
		return "", ErrNoIRs
	}
	next, ok := h.catalog.Next(h.IRName())
	if !ok {
		return "", ErrNoIRs
	}
	return next, h.SelectIR(next)
}

// IRName returns the last IR successfully sent for installation.
func (h *Handle) IRName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.irName
}

// SetIRBypass enables or disables the cabinet stage.
func (h *Handle) SetIRBypass(b bool) error {
	if err := h.queue.TrySend(Command{Kind: SetBypass, Flag: b}); err != nil {
		return err
	}
	h.bypass.Store(b)
	return nil
}

// IRBypass returns the last requested bypass state.
func (h *Handle) IRBypass() bool { return h.bypass.Load() }

// SetIRGain sets the cabinet output gain in [0, 1].
func (h *Handle) SetIRGain(g float32) error {
	if !(g >= 0 && g <= 1) {
		return fmt.Errorf("%w: %g", convolver.ErrGainRange, g)
	}
	if err := h.queue.TrySend(Command{Kind: SetIRGain, Value: g}); err != nil {
		return err
	}
	h.mu.Lock()
	h.gain = g
	h.mu.Unlock()
	return nil
}

// IRGain returns the last requested cabinet gain.
func (h *Handle) IRGain() float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gain
}

// SetTuner switches between tuner mode (silent output) and normal play.
func (h *Handle) SetTuner(on bool) error {
	if err := h.queue.TrySend(Command{Kind: SetTuner, Flag: on}); err != nil {
		return err
	}
	h.tuner.Store(on)
	return nil
}

// Tuner returns the last requested tuner state.
func (h *Handle) Tuner() bool { return h.tuner.Load() }

// SetChannel selects an amp channel of the active chain. Ids the chain does
// not define are rejected without reaching the audio thread.
func (h *Handle) SetChannel(id int) error {
	h.mu.Lock()
	known := slices.Contains(h.channels, id)
	h.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %d", chain.ErrUnknownChannel, id)
	}
	if err := h.queue.TrySend(Command{Kind: SetChannel, Channel: id}); err != nil {
		return err
	}
	h.channel.Store(int64(id))
	return nil
}

// Channel returns the last requested channel.
func (h *Handle) Channel() int { return int(h.channel.Load()) }

// Channels returns the channel ids of the active chain.
func (h *Handle) Channels() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.channels)
}

// StartRecording opens a new file in dir and attaches it to the engine.
// It returns the file path.
func (h *Handle) StartRecording(dir string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rec != nil {
		return "", ErrAlreadyRecording
	}

	rec, err := record.Create(dir, int(h.cfg.BaseRate), h.cfg.MaxFrames, h.cfg.QueueBlocks)
	if err != nil {
		return "", err
	}
	if err := h.queue.TrySend(Command{Kind: StartRecording, Recorder: rec}); err != nil {
		_ = rec.Stop()
		return "", err
	}

	h.rec = rec
	return rec.Path(), nil
}

// StopRecording detaches the recorder and waits for its writer to finalize
// the file. It is the only Handle method that waits, and it waits on the
// writer goroutine, never on the audio thread. The file is finalized even
// when the detach command cannot be queued; the engine then keeps pushing
// into a stopped recorder, which drops every block.
func (h *Handle) StopRecording() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rec == nil {
		return ErrNotRecording
	}
	if err := h.queue.TrySend(Command{Kind: StopRecording}); err != nil {
		log.Warnf("control: recorder detach not queued, finalizing anyway: %v", err)
	}

	rec := h.rec
	h.rec = nil
	return rec.Stop()
}

// Recording reports whether a recording is in progress.
func (h *Handle) Recording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec != nil
}
