// SPDX-License-Identifier: MIT

// Package control carries configuration changes from the control plane to
// the audio thread. Nothing here blocks the sender: a full queue rejects the
// message and the caller decides whether to retry.
package control

import (
	"errors"
	"fmt"

	"ampsim/internal/chain"
	"ampsim/internal/convolver"
	"ampsim/internal/record"
)

// DefaultQueueCapacity is used when the configured capacity is not positive.
const DefaultQueueCapacity = 16

var ErrQueueFull = errors.New("control: command queue full")

// CommandKind identifies the change a Command carries.
type CommandKind uint8

const (
	ReplaceChain CommandKind = iota
	StartRecording
	StopRecording
	InstallIR
	SetBypass
	SetIRGain
	SetTuner
	SetChannel
)

var commandNames = [...]string{
	ReplaceChain:   "replace-chain",
	StartRecording: "start-recording",
	StopRecording:  "stop-recording",
	InstallIR:      "install-ir",
	SetBypass:      "set-bypass",
	SetIRGain:      "set-ir-gain",
	SetTuner:       "set-tuner",
	SetChannel:     "set-channel",
}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) {
		return commandNames[k]
	}
	return fmt.Sprintf("command(%d)", k)
}

// Command is one control message. Only the fields matching Kind are set;
// everything it points to is fully built before it is sent.
type Command struct {
	Kind     CommandKind
	Chain    *chain.Chain
	Kernel   *convolver.Kernel
	Recorder *record.Recorder
	Flag     bool
	Value    float32
	Channel  int
}

// Queue is a bounded, non-blocking command queue.
type Queue struct {
	ch chan Command
}

// NewQueue returns a queue holding up to capacity commands.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Command, capacity)}
}

// TrySend enqueues c or returns ErrQueueFull without waiting.
func (q *Queue) TrySend(c Command) error {
	select {
	case q.ch <- c:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped", ErrQueueFull, c.Kind)
	}
}

// C is the receive side, drained by the audio thread.
func (q *Queue) C() <-chan Command { return q.ch }

// Len returns the number of queued commands.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// ChainSlot holds at most one pending chain replacement.
type ChainSlot struct {
	ch chan *chain.Chain
}

// NewChainSlot returns an empty slot.
func NewChainSlot() *ChainSlot {
	return &ChainSlot{ch: make(chan *chain.Chain, 1)}
}

// Publish offers c to the audio thread. If a chain is already pending, c
// is dropped and Publish returns false.
func (s *ChainSlot) Publish(c *chain.Chain) bool {
	select {
	case s.ch <- c:
		return true
	default:
		return false
	}
}

// C is the receive side, drained by the audio thread.
func (s *ChainSlot) C() <-chan *chain.Chain { return s.ch }
