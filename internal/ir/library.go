// SPDX-License-Identifier: MIT
package ir

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"

	"ampsim/internal/log"
)

const (
	// DefaultMaxDuration is the longest IR accepted before resampling.
	DefaultMaxDuration = 5 * time.Second

	// Trailing samples quieter than this, relative to the peak, are trimmed.
	trimFloorDB = -80.0
	// Peak level after normalization.
	normalizePeak = 0.9
)

var (
	ErrNotFound = errors.New("ir: impulse response not found")
	ErrDecode   = errors.New("ir: cannot decode impulse response")
	ErrTooLong  = errors.New("ir: impulse response too long")
	ErrSilent   = errors.New("ir: impulse response is silent")
	ErrRate     = errors.New("ir: invalid target sample rate")
)

// Library indexes the WAV files below a directory and loads them as
// mono IRs at a fixed target rate. Names are slash-separated paths relative
// to the directory.
type Library struct {
	dir         string
	targetRate  float64
	maxDuration time.Duration

	mu    sync.RWMutex
	names []string
	paths map[string]string
}

// Option configures a Library.
type Option func(*Library)

// WithMaxDuration overrides DefaultMaxDuration.
func WithMaxDuration(d time.Duration) Option {
	return func(l *Library) {
		if d > 0 {
			l.maxDuration = d
		}
	}
}

// NewLibrary scans dir and returns a library resampling to targetRate.
func NewLibrary(dir string, targetRate float64, opts ...Option) (*Library, error) {
	if targetRate <= 0 || math.IsNaN(targetRate) || math.IsInf(targetRate, 0) {
		return nil, fmt.Errorf("%w: %g", ErrRate, targetRate)
	}

	l := &Library{
		dir:         dir,
		targetRate:  targetRate,
		maxDuration: DefaultMaxDuration,
		paths:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.Scan(); err != nil {
		return nil, err
	}
	return l, nil
}

// Dir returns the scanned directory.
func (l *Library) Dir() string { return l.dir }

// TargetRate returns the rate IRs are resampled to.
func (l *Library) TargetRate() float64 { return l.targetRate }

// Scan rebuilds the index from the directory tree.
func (l *Library) Scan() error {
	paths := make(map[string]string)

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		paths[filepath.ToSlash(rel)] = path
		return nil
	})
	if err != nil {
		return fmt.Errorf("ir: scan %s: %w", l.dir, err)
	}

	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	l.mu.Lock()
	l.names = names
	l.paths = paths
	l.mu.Unlock()

	log.Debugf("ir: %d impulse responses in %s", len(names), l.dir)
	return nil
}

// Names returns the sorted IR names.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.names...)
}

// Next returns the name following current in sort order, wrapping around.
// An unknown or empty current yields the first name.
func (l *Library) Next(current string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.names) == 0 {
		return "", false
	}
	i := sort.SearchStrings(l.names, current)
	if i < len(l.names) && l.names[i] == current {
		return l.names[(i+1)%len(l.names)], true
	}
	return l.names[0], true
}

// LoadByName decodes, downmixes, resamples, trims and normalizes the named
// IR.
func (l *Library) LoadByName(name string) ([]float32, error) {
	l.mu.RLock()
	path, ok := l.paths[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	mono, rate, err := readMono(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}

	if dur := time.Duration(float64(len(mono)) / float64(rate) * float64(time.Second)); dur > l.maxDuration {
		return nil, fmt.Errorf("%w: %s is %s, limit %s", ErrTooLong, name, dur.Round(time.Millisecond), l.maxDuration)
	}

	if float64(rate) != l.targetRate {
		mono, err = resampleIR(mono, float64(rate), l.targetRate)
		if err != nil {
			return nil, fmt.Errorf("ir: resample %s: %w", name, err)
		}
	}

	out, err := trimAndNormalize(mono)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}

	log.Infof("ir: loaded %s (%d samples at %.0f Hz)", name, len(out), l.targetRate)
	return out, nil
}

func readMono(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, 0, errors.New("missing format")
	}

	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	if frames == 0 {
		return nil, 0, errors.New("no samples")
	}

	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range ch {
			sum += float64(buf.Data[i*ch+c])
		}
		out[i] = sum / float64(ch)
	}
	return out, buf.Format.SampleRate, nil
}

// resampleIR converts in to outRate, flushing the filter and removing its
// group delay so the IR onset stays at sample zero.
func resampleIR(in []float64, inRate, outRate float64) ([]float64, error) {
	r, err := resample.NewForRates(inRate, outRate, resample.WithQuality(resample.QualityBest))
	if err != nil {
		return nil, err
	}

	padded := make([]float64, len(in)+r.TapsPerPhase()+1)
	copy(padded, in)
	out := r.Process(padded)

	_, down := r.Ratio()
	delay := int(math.Round(0.5 * float64(len(r.Prototype())-1) / float64(down)))
	if delay >= len(out) {
		return out, nil
	}
	return out[delay:], nil
}

func trimAndNormalize(in []float64) ([]float32, error) {
	var peak float64
	for _, v := range in {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return nil, ErrSilent
	}

	floor := peak * math.Pow(10, trimFloorDB/20)
	end := len(in)
	for end > 0 && math.Abs(in[end-1]) < floor {
		end--
	}

	scale := normalizePeak / peak
	out := make([]float32, end)
	for i, v := range in[:end] {
		out[i] = float32(v * scale)
	}
	return out, nil
}
