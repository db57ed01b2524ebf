// SPDX-License-Identifier: MIT
package chain

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownKind    = errors.New("chain: unknown stage kind")
	ErrUnknownParam   = errors.New("chain: unknown parameter")
	ErrParamRange     = errors.New("chain: parameter out of range")
	ErrStageIndex     = errors.New("chain: stage index out of range")
	ErrUnknownChannel = errors.New("chain: unknown channel")
)

// ParamError reports a rejected parameter read or write. It wraps
// ErrUnknownParam or ErrParamRange.
type ParamError struct {
	Stage string
	Param string
	Value float32
	Err   error
}

func (e *ParamError) Error() string {
	if errors.Is(e.Err, ErrParamRange) {
		return fmt.Sprintf("%s.%s = %g: %v", e.Stage, e.Param, e.Value, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Stage, e.Param, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

// paramSpec describes one named parameter: its valid closed range and the
// value a freshly built stage starts with. integral parameters select modes
// and reject fractional values.
type paramSpec struct {
	name     string
	min, max float32
	def      float32
	integral bool
}

func (p paramSpec) accepts(v float32) bool {
	if math.IsNaN(float64(v)) || v < p.min || v > p.max {
		return false
	}
	if p.integral && v != float32(math.Trunc(float64(v))) {
		return false
	}
	return true
}

// Parameter tables per kind. Order is the order Params() reports.
var (
	gainParams = []paramSpec{
		{name: "gain_db", min: -60, max: 24, def: 0},
	}
	driveParams = []paramSpec{
		{name: "drive", min: 0.01, max: 20, def: 4},
		{name: "mix", min: 0, max: 1, def: 1},
		{name: "level", min: 0, max: 4, def: 0.5},
		{name: "mode", min: 0, max: 2, def: 2, integral: true},
	}
	compressorParams = []paramSpec{
		{name: "threshold_db", min: -60, max: 0, def: -20},
		{name: "ratio", min: 1, max: 20, def: 4},
		{name: "attack_ms", min: 0.1, max: 200, def: 10},
		{name: "release_ms", min: 5, max: 2000, def: 100},
		{name: "makeup_db", min: 0, max: 24, def: 0},
	}
	gateParams = []paramSpec{
		{name: "threshold_db", min: -96, max: 0, def: -60},
		{name: "hold_ms", min: 0, max: 500, def: 50},
		{name: "release_ms", min: 5, max: 2000, def: 100},
	}
	filterParams = []paramSpec{
		{name: "freq", min: 20, max: 20000, def: 1000},
		{name: "q", min: 0.1, max: 10, def: 0.707},
	}
	toneStackParams = []paramSpec{
		{name: "bass", min: 0, max: 10, def: 5},
		{name: "mid", min: 0, max: 10, def: 5},
		{name: "treble", min: 0, max: 10, def: 5},
	}
)

func lookupParam(specs []paramSpec, name string) int {
	for i, p := range specs {
		if p.name == name {
			return i
		}
	}
	return -1
}
