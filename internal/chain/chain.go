// SPDX-License-Identifier: MIT
package chain

import (
	"fmt"
	"sort"
)

// Route lists the stage indices run for one channel, in order:
// pre-stages, the channel's main stage(s), then post-stages.
type Route struct {
	Pre  []int
	Main []int
	Post []int
}

// Chain owns an ordered set of stages and routes samples through the
// subset selected by the active channel. Stages are referenced by index, so
// two channels that share a pre-stage share its state.
//
// A Chain is used by one goroutine at a time: it is built on the control
// plane and then handed over to the audio thread.
type Chain struct {
	sampleRate float64
	stages     []*Stage
	channels   map[int]Route

	active  int
	current Route
	ready   bool
}

// New returns an empty chain running at sampleRate.
func New(sampleRate float64) *Chain {
	return &Chain{
		sampleRate: sampleRate,
		channels:   make(map[int]Route),
	}
}

// SampleRate is the rate the chain's stages were configured for.
func (c *Chain) SampleRate() float64 { return c.sampleRate }

// Add appends a stage and returns its index.
func (c *Chain) Add(s *Stage) int {
	c.stages = append(c.stages, s)
	return len(c.stages) - 1
}

// Len returns the number of stages.
func (c *Chain) Len() int { return len(c.stages) }

// Stage returns the stage at index i.
func (c *Chain) Stage(i int) (*Stage, error) {
	if i < 0 || i >= len(c.stages) {
		return nil, fmt.Errorf("%w: %d", ErrStageIndex, i)
	}
	return c.stages[i], nil
}

// DefineChannel registers the route for channel id. Every index must name
// an existing stage. The first channel defined becomes active.
func (c *Chain) DefineChannel(id int, pre, main, post []int) error {
	for _, list := range [][]int{pre, main, post} {
		for _, i := range list {
			if i < 0 || i >= len(c.stages) {
				return fmt.Errorf("channel %d: %w: %d", id, ErrStageIndex, i)
			}
		}
	}

	r := Route{
		Pre:  append([]int(nil), pre...),
		Main: append([]int(nil), main...),
		Post: append([]int(nil), post...),
	}
	c.channels[id] = r

	if !c.ready || c.active == id {
		c.active = id
		c.current = r
		c.ready = true
	}
	return nil
}

// SetChannel makes id the active channel. Stage state is untouched, so
// stages shared between channels carry their state across the switch.
func (c *Chain) SetChannel(id int) error {
	r, ok := c.channels[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	c.active = id
	c.current = r
	return nil
}

// Channel returns the active channel id.
func (c *Chain) Channel() int { return c.active }

// Channels returns the defined channel ids in ascending order.
func (c *Chain) Channels() []int {
	ids := make([]int, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Route returns the stage indices of channel id.
func (c *Chain) Route(id int) (Route, bool) {
	r, ok := c.channels[id]
	return r, ok
}

// Process runs one sample through the active channel. With no channel
// defined every stage runs in insertion order.
func (c *Chain) Process(x float32) float32 {
	if !c.ready {
		for _, s := range c.stages {
			x = s.Process(x)
		}
		return x
	}

	for _, i := range c.current.Pre {
		x = c.stages[i].Process(x)
	}
	for _, i := range c.current.Main {
		x = c.stages[i].Process(x)
	}
	for _, i := range c.current.Post {
		x = c.stages[i].Process(x)
	}
	return x
}

// ProcessBlock runs buf through the active channel in place.
func (c *Chain) ProcessBlock(buf []float32) {
	for i, x := range buf {
		buf[i] = c.Process(x)
	}
}

// Reset clears the signal state of every stage.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}
