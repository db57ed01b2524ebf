// SPDX-License-Identifier: MIT
package chain

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/effects"
	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// Kind selects the processing a Stage performs. The set is closed: every
// kind is handled by the switch in Stage.Process.
type Kind uint8

const (
	KindGain Kind = iota
	KindDrive
	KindCompressor
	KindGate
	KindHighpass
	KindLowpass
	KindToneStack
)

var kindNames = [...]string{
	KindGain:       "gain",
	KindDrive:      "drive",
	KindCompressor: "compressor",
	KindGate:       "gate",
	KindHighpass:   "highpass",
	KindLowpass:    "lowpass",
	KindToneStack:  "tonestack",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a config name such as "drive" to its Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Tone stack corner frequencies and the dB swing of one knob step.
const (
	toneBassHz     = 120.0
	toneMidHz      = 700.0
	toneMidQ       = 0.7
	toneTrebleHz   = 3000.0
	toneShelfQ     = 0.707
	toneDBPerNotch = 2.4
)

type gainStage struct {
	lin float32
}

type driveStage struct {
	dist *effects.Distortion
}

type compressorStage struct {
	comp *dynamics.Compressor
}

type gateStage struct {
	gate *dynamics.Gate
}

type filterStage struct {
	freq, q float32
	section *biquad.Section
}

type toneStackStage struct {
	low, peak, high *biquad.Section
}

// Stage is a single-sample processor. It is a tagged variant: kind selects
// which of the per-kind payloads is populated.
type Stage struct {
	kind       Kind
	name       string
	sampleRate float64
	values     []float32

	gain   *gainStage
	drive  *driveStage
	comp   *compressorStage
	gate   *gateStage
	filter *filterStage
	tone   *toneStackStage
}

// NewStage builds a stage of the given kind with default parameters at the
// rate it will run at (the oversampled working rate inside the engine).
// An empty name defaults to the kind name.
func NewStage(kind Kind, name string, sampleRate float64) (*Stage, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("chain: stage sample rate must be positive: %f", sampleRate)
	}
	if name == "" {
		name = kind.String()
	}

	s := &Stage{kind: kind, name: name, sampleRate: sampleRate}

	switch kind {
	case KindGain:
		s.gain = &gainStage{}
		s.gain.set(0)

	case KindDrive:
		dist, err := effects.NewDistortion(sampleRate)
		if err != nil {
			return nil, fmt.Errorf("chain: drive stage: %w", err)
		}
		s.drive = &driveStage{dist: dist}

	case KindCompressor:
		comp, err := dynamics.NewCompressor(sampleRate)
		if err != nil {
			return nil, fmt.Errorf("chain: compressor stage: %w", err)
		}
		s.comp = &compressorStage{comp: comp}

	case KindGate:
		gate, err := dynamics.NewGate(sampleRate)
		if err != nil {
			return nil, fmt.Errorf("chain: gate stage: %w", err)
		}
		s.gate = &gateStage{gate: gate}

	case KindHighpass, KindLowpass:
		s.filter = &filterStage{section: biquad.NewSection(biquad.Coefficients{B0: 1})}

	case KindToneStack:
		s.tone = &toneStackStage{
			low:  biquad.NewSection(biquad.Coefficients{B0: 1}),
			peak: biquad.NewSection(biquad.Coefficients{B0: 1}),
			high: biquad.NewSection(biquad.Coefficients{B0: 1}),
		}

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	s.values = make([]float32, len(s.specs()))
	for _, p := range s.specs() {
		def := p.def
		switch {
		case kind == KindHighpass && p.name == "freq":
			def = 80
		case kind == KindLowpass && p.name == "freq":
			def = 6000
		}
		if err := s.SetParam(p.name, def); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Kind returns the stage kind.
func (s *Stage) Kind() Kind { return s.kind }

// Name returns the stage name used in parameter errors and the UI.
func (s *Stage) Name() string { return s.name }

// Params lists the parameter names the stage accepts.
func (s *Stage) Params() []string {
	specs := s.specs()
	names := make([]string, len(specs))
	for i, p := range specs {
		names[i] = p.name
	}
	return names
}

func (s *Stage) specs() []paramSpec {
	switch s.kind {
	case KindGain:
		return gainParams
	case KindDrive:
		return driveParams
	case KindCompressor:
		return compressorParams
	case KindGate:
		return gateParams
	case KindHighpass, KindLowpass:
		return filterParams
	case KindToneStack:
		return toneStackParams
	}
	return nil
}

// Process transforms one sample.
func (s *Stage) Process(x float32) float32 {
	switch s.kind {
	case KindGain:
		return x * s.gain.lin
	case KindDrive:
		return float32(s.drive.dist.ProcessSample(float64(x)))
	case KindCompressor:
		return float32(s.comp.comp.ProcessSample(float64(x)))
	case KindGate:
		return float32(s.gate.gate.ProcessSample(float64(x)))
	case KindHighpass, KindLowpass:
		return float32(s.filter.section.ProcessSample(float64(x)))
	case KindToneStack:
		y := s.tone.low.ProcessSample(float64(x))
		y = s.tone.peak.ProcessSample(y)
		return float32(s.tone.high.ProcessSample(y))
	}
	return x
}

// ProcessBlock transforms buf in place, one sample at a time.
func (s *Stage) ProcessBlock(buf []float32) {
	for i, x := range buf {
		buf[i] = s.Process(x)
	}
}

// Reset clears the internal signal state, keeping parameters.
func (s *Stage) Reset() {
	switch s.kind {
	case KindDrive:
		s.drive.dist.Reset()
	case KindCompressor:
		s.comp.comp.Reset()
	case KindGate:
		s.gate.gate.Reset()
	case KindHighpass, KindLowpass:
		s.filter.section.Reset()
	case KindToneStack:
		s.tone.low.Reset()
		s.tone.peak.Reset()
		s.tone.high.Reset()
	}
}

// Param returns the current value of a named parameter.
func (s *Stage) Param(name string) (float32, error) {
	i := lookupParam(s.specs(), name)
	if i < 0 {
		return 0, &ParamError{Stage: s.name, Param: name, Err: ErrUnknownParam}
	}
	return s.values[i], nil
}

// SetParam validates and applies a named parameter. Unknown names and
// out-of-range values return a *ParamError and leave the stage unchanged.
func (s *Stage) SetParam(name string, v float32) error {
	specs := s.specs()
	i := lookupParam(specs, name)
	if i < 0 {
		return &ParamError{Stage: s.name, Param: name, Value: v, Err: ErrUnknownParam}
	}
	if !specs[i].accepts(v) {
		return &ParamError{Stage: s.name, Param: name, Value: v, Err: ErrParamRange}
	}

	var err error
	switch s.kind {
	case KindGain:
		s.gain.set(v)
	case KindDrive:
		err = s.drive.set(name, v)
	case KindCompressor:
		err = s.comp.set(name, v)
	case KindGate:
		err = s.gate.set(name, v)
	case KindHighpass, KindLowpass:
		if name == "freq" && float64(v) >= 0.45*s.sampleRate {
			return &ParamError{Stage: s.name, Param: name, Value: v, Err: ErrParamRange}
		}
		s.filter.set(name, v, s.kind, s.sampleRate)
	case KindToneStack:
		s.tone.set(name, v, s.sampleRate)
	}
	if err != nil {
		return &ParamError{Stage: s.name, Param: name, Value: v, Err: fmt.Errorf("%w: %v", ErrParamRange, err)}
	}
	s.values[i] = v
	return nil
}

func (g *gainStage) set(db float32) {
	g.lin = float32(math.Pow(10, float64(db)/20))
}

var driveModes = [...]effects.DistortionMode{
	effects.DistortionModeSoftClip,
	effects.DistortionModeHardClip,
	effects.DistortionModeTanh,
}

func (d *driveStage) set(name string, v float32) error {
	switch name {
	case "drive":
		return d.dist.SetDrive(float64(v))
	case "mix":
		return d.dist.SetMix(float64(v))
	case "level":
		return d.dist.SetOutputLevel(float64(v))
	case "mode":
		return d.dist.SetMode(driveModes[int(v)])
	}
	return nil
}

func (c *compressorStage) set(name string, v float32) error {
	switch name {
	case "threshold_db":
		return c.comp.SetThreshold(float64(v))
	case "ratio":
		return c.comp.SetRatio(float64(v))
	case "attack_ms":
		return c.comp.SetAttack(float64(v))
	case "release_ms":
		return c.comp.SetRelease(float64(v))
	case "makeup_db":
		return c.comp.SetMakeupGain(float64(v))
	}
	return nil
}

func (g *gateStage) set(name string, v float32) error {
	switch name {
	case "threshold_db":
		return g.gate.SetThreshold(float64(v))
	case "hold_ms":
		return g.gate.SetHold(float64(v))
	case "release_ms":
		return g.gate.SetRelease(float64(v))
	}
	return nil
}

func (f *filterStage) set(name string, v float32, kind Kind, sampleRate float64) {
	if name == "freq" {
		f.freq = v
	} else {
		f.q = v
	}
	if f.freq == 0 || f.q == 0 {
		// Still being initialised; the other parameter arrives next.
		return
	}
	if kind == KindHighpass {
		f.section.Coefficients = design.Highpass(float64(f.freq), float64(f.q), sampleRate)
	} else {
		f.section.Coefficients = design.Lowpass(float64(f.freq), float64(f.q), sampleRate)
	}
}

func (t *toneStackStage) set(name string, v float32, sampleRate float64) {
	knobDB := func(v float32) float64 { return float64(v-5) * toneDBPerNotch }
	switch name {
	case "bass":
		t.low.Coefficients = design.LowShelf(toneBassHz, knobDB(v), toneShelfQ, sampleRate)
	case "mid":
		t.peak.Coefficients = design.Peak(toneMidHz, knobDB(v), toneMidQ, sampleRate)
	case "treble":
		t.high.Coefficients = design.HighShelf(toneTrebleHz, knobDB(v), toneShelfQ, sampleRate)
	}
}
