// SPDX-License-Identifier: MIT
package chain

import (
	"fmt"
	"sort"
)

// StageSpec describes one stage in a config file.
type StageSpec struct {
	Name   string             `yaml:"name"`
	Kind   string             `yaml:"kind"`
	Params map[string]float32 `yaml:"params,omitempty"`
}

// ChannelSpec describes the route of one channel.
type ChannelSpec struct {
	ID   int   `yaml:"id"`
	Pre  []int `yaml:"pre"`
	Main []int `yaml:"main"`
	Post []int `yaml:"post"`
}

// Spec is the declarative form of a Chain.
type Spec struct {
	Stages   []StageSpec   `yaml:"stages"`
	Channels []ChannelSpec `yaml:"channels"`
	Active   int           `yaml:"active"`
}

// DefaultSpec is a two-channel amp: a clean and a lead drive sharing the
// same gate, input gain, highpass, tone stack and master.
func DefaultSpec() Spec {
	return Spec{
		Stages: []StageSpec{
			{Name: "gate", Kind: "gate", Params: map[string]float32{"threshold_db": -70}},
			{Name: "input", Kind: "gain", Params: map[string]float32{"gain_db": 6}},
			{Name: "tight", Kind: "highpass", Params: map[string]float32{"freq": 80}},
			{Name: "clean", Kind: "drive", Params: map[string]float32{"drive": 1.5, "mode": 0, "level": 0.8}},
			{Name: "lead", Kind: "drive", Params: map[string]float32{"drive": 12, "mode": 2, "level": 0.4}},
			{Name: "tone", Kind: "tonestack"},
			{Name: "master", Kind: "gain", Params: map[string]float32{"gain_db": -6}},
		},
		Channels: []ChannelSpec{
			{ID: 0, Pre: []int{0, 1, 2}, Main: []int{3}, Post: []int{5, 6}},
			{ID: 1, Pre: []int{0, 1, 2}, Main: []int{4}, Post: []int{5, 6}},
		},
		Active: 0,
	}
}

// Build constructs a Chain at sampleRate from spec. Parameters are applied
// in name order so errors are reported deterministically.
func Build(spec Spec, sampleRate float64) (*Chain, error) {
	c := New(sampleRate)

	for i, ss := range spec.Stages {
		kind, err := ParseKind(ss.Kind)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		s, err := NewStage(kind, ss.Name, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}

		names := make([]string, 0, len(ss.Params))
		for name := range ss.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := s.SetParam(name, ss.Params[name]); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
		}
		c.Add(s)
	}

	for _, ch := range spec.Channels {
		if err := c.DefineChannel(ch.ID, ch.Pre, ch.Main, ch.Post); err != nil {
			return nil, err
		}
	}
	if len(spec.Channels) > 0 {
		if err := c.SetChannel(spec.Active); err != nil {
			return nil, err
		}
	}

	return c, nil
}
