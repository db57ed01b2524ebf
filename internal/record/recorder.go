// SPDX-License-Identifier: MIT

// Package record writes the engine's output to disk from a dedicated
// goroutine, so the audio thread only ever copies into a free block.
package record

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"ampsim/internal/log"
)

const (
	bitDepth = 16
	channels = 2

	// DefaultQueueBlocks is the number of in-flight blocks when unset.
	DefaultQueueBlocks = 64
)

var (
	ErrStopped   = errors.New("record: recorder stopped")
	ErrBlockSize = errors.New("record: invalid block size")
)

// FileName returns the recording file name for t.
func FileName(t time.Time) string {
	return "ampsim-" + t.Format("20060102-150405") + ".wav"
}

// Recorder encodes mono blocks as a stereo 16-bit WAV with both channels
// identical. Push is safe to call from the audio thread; Stop must be called
// from elsewhere. Blocks pushed after Stop are dropped.
type Recorder struct {
	path       string
	sampleRate int
	maxFrames  int

	file *os.File
	enc  *wav.Encoder
	buf  *audio.IntBuffer

	blocks chan []float32
	free   chan []float32
	done   chan struct{}
	wg     sync.WaitGroup

	stopped atomic.Bool
	frames  atomic.Uint64
	dropped atomic.Uint64

	err error // first write error, read after wg.Wait
}

// Create opens a new recording in dir. maxFrames bounds the block length
// accepted by Push; queueBlocks bounds how many blocks may wait for the
// writer before Push starts dropping.
func Create(dir string, sampleRate, maxFrames, queueBlocks int) (*Recorder, error) {
	if maxFrames <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, maxFrames)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("record: invalid sample rate %d", sampleRate)
	}
	if queueBlocks <= 0 {
		queueBlocks = DefaultQueueBlocks
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	file, path, err := createUnique(dir, time.Now())
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	r := &Recorder{
		path:       path,
		sampleRate: sampleRate,
		maxFrames:  maxFrames,
		file:       file,
		enc:        wav.NewEncoder(file, sampleRate, bitDepth, channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			Data:           make([]int, maxFrames*channels),
			SourceBitDepth: bitDepth,
		},
		blocks: make(chan []float32, queueBlocks),
		free:   make(chan []float32, queueBlocks),
		done:   make(chan struct{}),
	}
	for range queueBlocks {
		r.free <- make([]float32, maxFrames)
	}

	r.wg.Add(1)
	go r.run()

	log.Infof("record: writing %s", path)
	return r, nil
}

func createUnique(dir string, now time.Time) (*os.File, string, error) {
	base := FileName(now)
	path := filepath.Join(dir, base)
	for i := 2; ; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return nil, "", err
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.wav", base[:len(base)-len(".wav")], i))
	}
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() uint64 { return r.frames.Load() }

// Dropped returns the number of blocks discarded because the writer fell
// behind or the block was too long.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Push hands a copy of samples to the writer. It never blocks or
// allocates; it returns false when the block was dropped.
func (r *Recorder) Push(samples []float32) bool {
	if r.stopped.Load() || len(samples) == 0 {
		return false
	}
	if len(samples) > r.maxFrames {
		r.dropped.Add(1)
		return false
	}

	var blk []float32
	select {
	case blk = <-r.free:
	default:
		r.dropped.Add(1)
		return false
	}

	blk = blk[:len(samples)]
	copy(blk, samples)

	select {
	case r.blocks <- blk:
		return true
	default:
		r.free <- blk[:cap(blk)]
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case blk := <-r.blocks:
			r.write(blk)
		case <-r.done:
			for {
				select {
				case blk := <-r.blocks:
					r.write(blk)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(blk []float32) {
	defer func() { r.free <- blk[:cap(blk)] }()
	if r.err != nil {
		return
	}

	const scale = math.MaxInt16
	data := r.buf.Data[:len(blk)*channels]
	for i, v := range blk {
		s := int(math.Round(float64(max(-1, min(1, v))) * scale))
		data[2*i] = s
		data[2*i+1] = s
	}
	r.buf.Data = data

	if err := r.enc.Write(r.buf); err != nil {
		r.err = err
		log.Errorf("record: write %s: %v", r.path, err)
		return
	}
	r.frames.Add(uint64(len(blk)))
}

// Stop flushes queued blocks, finalizes the WAV header and closes the
// file. Calling Stop again returns ErrStopped.
func (r *Recorder) Stop() error {
	if r.stopped.Swap(true) {
		return ErrStopped
	}
	close(r.done)
	r.wg.Wait()

	err := r.err
	if cerr := r.enc.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if cerr := r.file.Close(); err == nil && cerr != nil {
		err = cerr
	}

	log.Infof("record: stopped %s (%d frames, %d blocks dropped)", r.path, r.Frames(), r.Dropped())
	if err != nil {
		return fmt.Errorf("record: finalize %s: %w", r.path, err)
	}
	return nil
}
