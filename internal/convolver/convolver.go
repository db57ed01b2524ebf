// SPDX-License-Identifier: MIT
package convolver

import (
	"errors"
	"fmt"
)

var (
	ErrGainRange = errors.New("convolver: gain out of range [0, 1]")
	ErrNoSource  = errors.New("convolver: no impulse response source")
)

// IRSource supplies decoded, resampled and normalized IR samples by name.
type IRSource interface {
	LoadByName(name string) ([]float32, error)
}

// Option configures a Convolver.
type Option func(*Convolver)

// WithGain sets the initial output gain. Values outside [0, 1] are ignored.
func WithGain(g float32) Option {
	return func(c *Convolver) {
		if g >= 0 && g <= 1 {
			c.gain = g
		}
	}
}

// WithBypass sets the initial bypass state.
func WithBypass(b bool) Option {
	return func(c *Convolver) { c.bypass = b }
}

// Convolver is the cabinet stage: an installed Kernel followed by a DC
// blocker and output gain.
//
// Prepare may run on any goroutine. Every other method belongs to the
// goroutine that calls ProcessBlock; the control plane reaches them through
// queued commands.
type Convolver struct {
	lib    IRSource
	kernel *Kernel

	bypass bool
	gain   float32

	// DC blocker state.
	x1, y1 float64
}

// New returns a convolver with no IR installed. lib may be nil when IRs are
// only installed as prepared kernels.
func New(lib IRSource, opts ...Option) *Convolver {
	c := &Convolver{lib: lib, gain: 1}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare loads and builds a kernel for name without touching the
// convolver's state.
func (c *Convolver) Prepare(name string) (*Kernel, error) {
	if c.lib == nil {
		return nil, ErrNoSource
	}
	samples, err := c.lib.LoadByName(name)
	if err != nil {
		return nil, fmt.Errorf("load IR %q: %w", name, err)
	}
	ir, err := NewImpulseResponse(name, samples)
	if err != nil {
		return nil, fmt.Errorf("build IR %q: %w", name, err)
	}
	return NewKernel(ir), nil
}

// SelectIR prepares and installs name. On failure the current IR stays.
func (c *Convolver) SelectIR(name string) error {
	k, err := c.Prepare(name)
	if err != nil {
		return err
	}
	c.Install(k)
	return nil
}

// Install swaps in a prepared kernel. A nil kernel removes the IR.
func (c *Convolver) Install(k *Kernel) {
	c.kernel = k
	c.x1, c.y1 = 0, 0
}

// Kernel returns the installed kernel, or nil.
func (c *Convolver) Kernel() *Kernel { return c.kernel }

// IRName returns the installed IR's name, or "".
func (c *Convolver) IRName() string {
	if c.kernel == nil {
		return ""
	}
	return c.kernel.ir.Name
}

// SetBypass turns the convolver into an identity stage. Enabling bypass
// clears all convolution history.
func (c *Convolver) SetBypass(b bool) {
	if b && !c.bypass {
		c.reset()
	}
	c.bypass = b
}

// Bypassed reports whether the convolver passes audio unchanged.
func (c *Convolver) Bypassed() bool { return c.bypass }

// SetGain sets the linear output gain in [0, 1].
func (c *Convolver) SetGain(g float32) error {
	if !(g >= 0 && g <= 1) {
		return fmt.Errorf("%w: %g", ErrGainRange, g)
	}
	c.gain = g
	return nil
}

// Gain returns the linear output gain.
func (c *Convolver) Gain() float32 { return c.gain }

func (c *Convolver) reset() {
	if c.kernel != nil {
		c.kernel.Reset()
	}
	c.x1, c.y1 = 0, 0
}

// ProcessBlock convolves buf in place. With bypass enabled or no IR
// installed buf is left untouched.
func (c *Convolver) ProcessBlock(buf []float32) {
	if c.bypass || c.kernel == nil {
		return
	}

	k := c.kernel
	gain := float64(c.gain)
	for i, x := range buf {
		y := float64(k.ProcessSample(x))

		d := y - c.x1 + DCBlockR*c.y1
		c.x1 = y
		c.y1 = d

		buf[i] = float32(d * gain)
	}
}
