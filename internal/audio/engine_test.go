// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"ampsim/internal/chain"
	"ampsim/internal/config"
	"ampsim/internal/control"
	"ampsim/internal/convolver"
	"ampsim/internal/ir"
	"ampsim/pkg/utils"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	testSampleRate = 48000
	testFrameSize  = 256
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Audio.SampleRate = testSampleRate
	cfg.Audio.FramesPerBuffer = testFrameSize
	return cfg
}

// identityConfig runs at the base rate through a single 0 dB gain stage.
func identityConfig() *config.Config {
	cfg := testConfig()
	cfg.Amp.Oversampling = 1
	cfg.Amp.Chain = chain.Spec{Stages: []chain.StageSpec{{Kind: "gain"}}}
	return cfg
}

func newTestEngine(t testing.TB, cfg *config.Config, lib *ir.Library) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, lib)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// writeIR writes a 16-bit mono WAV to dir/name.
func writeIR(t *testing.T, dir, name string, samples []int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, testSampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testSampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessIdentityChain(t *testing.T) {
	e := newTestEngine(t, identityConfig(), nil)

	in := utils.GenerateComplexWave(testFrameSize, testSampleRate, 0.5)
	out := make([]float32, testFrameSize)
	if err := e.Process(in, out); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %g, want %g", i, out[i], in[i])
		}
	}

	snap := e.Monitor().Load()
	if snap.Peak != utils.Peak(in) || snap.Pitch != 0 {
		t.Errorf("snapshot = %+v, want peak %g", snap, utils.Peak(in))
	}
}

func TestProcessStereoDuplication(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	in := utils.GenerateSineWave(testFrameSize, testSampleRate, 220, 0.5)
	out := make([]float32, 2*testFrameSize)
	var energy float64
	for range 8 {
		if err := e.Process(in, out); err != nil {
			t.Fatal(err)
		}
		for i := range testFrameSize {
			if out[2*i] != out[2*i+1] {
				t.Fatalf("frame %d: left %g right %g", i, out[2*i], out[2*i+1])
			}
		}
		energy += utils.RMS(out)
	}
	if energy == 0 {
		t.Error("stereo output is silent")
	}
}

func TestProcessLengthErrors(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	tests := []struct {
		name    string
		in, out int
	}{
		{"short input", testFrameSize - 1, testFrameSize},
		{"long input", testFrameSize + 1, testFrameSize},
		{"odd output", testFrameSize, testFrameSize + 1},
		{"three channels", testFrameSize, 3 * testFrameSize},
		{"empty", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Process(make([]float32, tt.in), make([]float32, tt.out))
			if !errors.Is(err, ErrLengthMismatch) {
				t.Errorf("err = %v, want ErrLengthMismatch", err)
			}
		})
	}
	if got := e.Stats().Buffers; got != 0 {
		t.Errorf("rejected buffers counted: %d", got)
	}
}

func TestProcessDrainsOneCommandPerBuffer(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	h := e.Control()

	if err := h.SetIRBypass(true); err != nil {
		t.Fatal(err)
	}
	if err := h.SetIRGain(0.5); err != nil {
		t.Fatal(err)
	}
	if err := h.SetChannel(1); err != nil {
		t.Fatal(err)
	}

	in := make([]float32, testFrameSize)
	out := make([]float32, testFrameSize)
	for want := 2; want >= 0; want-- {
		if err := e.Process(in, out); err != nil {
			t.Fatal(err)
		}
		if got := e.queue.Len(); got != want {
			t.Fatalf("after buffer: %d queued, want %d", got, want)
		}
	}

	if !e.conv.Bypassed() || e.conv.Gain() != 0.5 || e.chain.Channel() != 1 {
		t.Errorf("commands not applied: bypass %v gain %g channel %d",
			e.conv.Bypassed(), e.conv.Gain(), e.chain.Channel())
	}
	if s := e.Stats(); s.Applied != 3 || s.Rejected != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestProcessChainReplacement(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	h := e.Control()
	in := make([]float32, testFrameSize)
	out := make([]float32, testFrameSize)

	// Wrong rate: built at the base rate instead of the working rate.
	wrong, err := chain.Build(chain.DefaultSpec(), testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	h.ReplaceChain(wrong)
	if err := e.Process(in, out); err != nil {
		t.Fatal(err)
	}
	if e.chain == wrong || e.Stats().Rejected != 1 {
		t.Fatal("chain at the wrong rate installed")
	}

	spec := chain.Spec{Stages: []chain.StageSpec{{Kind: "gain", Params: map[string]float32{"gain_db": -6}}}}
	if err := h.BuildChain(spec); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(in, out); err != nil {
		t.Fatal(err)
	}
	if e.chain.Len() != 1 {
		t.Errorf("chain has %d stages, want 1", e.chain.Len())
	}
}

func TestProcessUnknownChannelRejected(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	h := e.Control()

	if err := h.SetChannel(7); !errors.Is(err, chain.ErrUnknownChannel) {
		t.Fatalf("SetChannel(7): err = %v, want ErrUnknownChannel", err)
	}
	if h.Channel() != 0 || e.queue.Len() != 0 {
		t.Fatalf("rejected channel tracked: Channel() = %d, %d queued", h.Channel(), e.queue.Len())
	}

	// A raw command for an unknown channel is still refused by the engine.
	if err := e.queue.TrySend(control.Command{Kind: control.SetChannel, Channel: 7}); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(make([]float32, testFrameSize), make([]float32, testFrameSize)); err != nil {
		t.Fatal(err)
	}
	if e.chain.Channel() != 0 {
		t.Errorf("channel = %d, want 0", e.chain.Channel())
	}
	if e.Stats().Rejected != 1 {
		t.Errorf("stats = %+v", e.Stats())
	}
}

func TestProcessTunerMode(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	if err := e.Control().SetTuner(true); err != nil {
		t.Fatal(err)
	}

	const buffers = 48
	signal := utils.GenerateSineWave(buffers*testFrameSize, testSampleRate, 110, 0.5)
	out := make([]float32, 2*testFrameSize)
	for b := range buffers {
		for i := range out {
			out[i] = 1
		}
		if err := e.Process(signal[b*testFrameSize:(b+1)*testFrameSize], out); err != nil {
			t.Fatal(err)
		}
		for i, v := range out {
			if v != 0 {
				t.Fatalf("buffer %d: out[%d] = %g in tuner mode", b, i, v)
			}
		}
	}

	snap := e.Monitor().Load()
	if math.Abs(float64(snap.Pitch)-110) > 1.1 {
		t.Errorf("pitch = %g Hz, want 110", snap.Pitch)
	}
	if name, _, ok := snap.Note(); !ok || name != "A2" {
		t.Errorf("note = %q, %v", name, ok)
	}

	if err := e.Control().SetTuner(false); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(signal[:testFrameSize], out); err != nil {
		t.Fatal(err)
	}
	if e.Monitor().Load().Pitch != 0 {
		t.Error("pitch still published after leaving tuner mode")
	}
}

func TestProcessInstallsIR(t *testing.T) {
	dir := t.TempDir()
	writeIR(t, dir, "cab.wav", []int{20000, 10000, 5000})
	lib, err := ir.NewLibrary(dir, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, identityConfig(), lib)
	if err := e.Control().SelectIR("cab.wav"); err != nil {
		t.Fatal(err)
	}
	if e.conv.Kernel() != nil {
		t.Fatal("kernel installed before the audio thread drained it")
	}

	in := utils.Impulse(testFrameSize)
	out := make([]float32, testFrameSize)
	if err := e.Process(in, out); err != nil {
		t.Fatal(err)
	}
	if e.conv.IRName() != "cab.wav" {
		t.Fatalf("IRName() = %q", e.conv.IRName())
	}
	if out[0] == 0 || out[1] == 0 {
		t.Errorf("impulse response not applied: %v", out[:4])
	}
}

func TestOpenLibraryUsesDriverRate(t *testing.T) {
	dir := t.TempDir()
	const echo = 480 // 10 ms at 48 kHz
	samples := make([]int, 1000)
	samples[0] = 20000
	samples[echo] = 10000
	writeIR(t, dir, "echo.wav", samples)

	cfg := testConfig()
	cfg.Amp.Oversampling = 4
	cfg.Amp.IRDir = dir

	lib, err := OpenLibrary(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if lib.TargetRate() != testSampleRate {
		t.Fatalf("TargetRate() = %g, want %d", lib.TargetRate(), testSampleRate)
	}

	resp, err := lib.LoadByName("echo.wav")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != echo+1 {
		t.Errorf("len = %d, want %d", len(resp), echo+1)
	}
	peakAt := 1
	for i := 1; i < len(resp); i++ {
		if math.Abs(float64(resp[i])) > math.Abs(float64(resp[peakAt])) {
			peakAt = i
		}
	}
	if peakAt != echo {
		t.Errorf("echo at sample %d, want %d", peakAt, echo)
	}

	if _, err := NewEngine(cfg, lib); err != nil {
		t.Errorf("NewEngine with driver-rate library: %v", err)
	}
}

func TestNewEngineRejectsLibraryRate(t *testing.T) {
	cfg := testConfig()
	lib, err := ir.NewLibrary(t.TempDir(), cfg.WorkingRate())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(cfg, lib); !errors.Is(err, ErrIRRate) {
		t.Errorf("err = %v, want ErrIRRate", err)
	}
}

func TestNewEngineMissingInitialIR(t *testing.T) {
	dir := t.TempDir()
	lib, err := ir.NewLibrary(dir, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Amp.IR = "missing.wav"

	e := newTestEngine(t, cfg, lib)
	if e.conv.Kernel() != nil || e.Control().IRName() != "" {
		t.Error("missing IR reported as loaded")
	}
}

func TestProcessRecording(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	h := e.Control()
	dir := t.TempDir()

	path, err := h.StartRecording(dir)
	if err != nil {
		t.Fatal(err)
	}

	const buffers = 20
	in := utils.GenerateSineWave(testFrameSize, testSampleRate, 440, 0.5)
	out := make([]float32, 2*testFrameSize)
	for range buffers {
		if err := e.Process(in, out); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.StopRecording(); err != nil {
		t.Fatal(err)
	}
	// The StopRecording command detaches the recorder on the next buffer.
	if err := e.Process(in, out); err != nil {
		t.Fatal(err)
	}
	if e.rec != nil {
		t.Error("recorder still attached")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if d.NumChans != 2 || d.BitDepth != 16 {
		t.Fatalf("format: %d channels, %d bits", d.NumChans, d.BitDepth)
	}

	// The first buffer applies StartRecording before processing, so every
	// buffer after it is recorded.
	frames := len(buf.Data) / 2
	if want := buffers * testFrameSize; frames < want-testFrameSize || frames > want {
		t.Errorf("recorded %d frames, want within one buffer of %d", frames, want)
	}
	for i := 0; i < len(buf.Data); i += 2 {
		if buf.Data[i] != buf.Data[i+1] {
			t.Fatalf("frame %d: channels differ", i/2)
		}
	}
}

func TestResizeBuffers(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	if err := e.ResizeBuffers(0); err == nil {
		t.Error("ResizeBuffers(0) succeeded")
	}
	if e.Frames() != testFrameSize {
		t.Errorf("failed resize changed Frames() to %d", e.Frames())
	}

	if err := e.ResizeBuffers(64); err != nil {
		t.Fatal(err)
	}
	if err := e.Process(make([]float32, 64), make([]float32, 128)); err != nil {
		t.Errorf("Process after resize: %v", err)
	}
	if err := e.Process(make([]float32, testFrameSize), make([]float32, testFrameSize)); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("old size accepted: %v", err)
	}
}

func TestStreamCallbackFailures(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	s := newStream(e, config.AudioConfig{MaxConsecutiveFailures: 2})

	bad := make([]float32, 3)
	out := []float32{1, 1, 1}
	s.callback(bad, out)
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %g after failure, want silence", i, v)
		}
	}

	// A good buffer resets the consecutive count.
	s.callback(make([]float32, testFrameSize), make([]float32, testFrameSize))
	s.callback(bad, out)
	select {
	case err := <-s.Failed():
		t.Fatalf("failure reported early: %v", err)
	default:
	}

	s.callback(bad, out)
	select {
	case err := <-s.Failed():
		if !errors.Is(err, ErrStreamFailed) || !errors.Is(err, ErrLengthMismatch) {
			t.Errorf("err = %v", err)
		}
		var se *StreamError
		if !errors.As(err, &se) || se.Failures != 2 {
			t.Errorf("err = %#v, want *StreamError with 2 failures", err)
		}
	default:
		t.Fatal("no failure reported")
	}
	if got := e.Stats().Failures; got != 3 {
		t.Errorf("Failures = %d, want 3", got)
	}

	// Reported once only.
	s.callback(bad, out)
	s.callback(bad, out)
	select {
	case err := <-s.Failed():
		t.Errorf("second report: %v", err)
	default:
	}
}

func TestStreamKeepsShortBlocks(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	s := newStream(e, config.AudioConfig{MaxConsecutiveFailures: 1})
	s.process = func(in, out []float32) error {
		for i := range out[:len(out)-1] {
			out[i] = 0.5
		}
		out[len(out)-1] = 0
		return ErrRateMismatch
	}

	out := make([]float32, 4)
	for range 3 {
		s.callback(make([]float32, 4), out)
	}
	if want := []float32{0.5, 0.5, 0.5, 0}; !slices.Equal(out, want) {
		t.Errorf("out = %v, want %v", out, want)
	}
	if got := e.Stats().Failures; got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
	select {
	case err := <-s.Failed():
		t.Errorf("short block reported as failure: %v", err)
	default:
	}
}

func TestStreamFailureHotPath(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	// The threshold is reached inside the measured runs.
	s := newStream(e, config.AudioConfig{MaxConsecutiveFailures: 5})

	bad := make([]float32, 3)
	out := make([]float32, 3)
	allocs := testing.AllocsPerRun(10, func() {
		s.callback(bad, out)
	})
	if allocs != 0 {
		t.Errorf("failing callback allocates: %v allocs/run", allocs)
	}
	select {
	case <-s.Failed():
	default:
		t.Fatal("no failure reported")
	}
}

func TestProcessHotPath(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	resp, err := convolver.NewImpulseResponse("test", utils.GenerateComplexWave(4096, testSampleRate, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	e.conv.Install(convolver.NewKernel(resp))

	in := utils.GenerateComplexWave(testFrameSize, testSampleRate, 0.5)
	out := make([]float32, 2*testFrameSize)

	for _, tuner := range []bool{false, true} {
		if err := e.Control().SetTuner(tuner); err != nil {
			t.Fatal(err)
		}
		_ = e.Process(in, out)

		allocs := testing.AllocsPerRun(100, func() {
			_ = e.Process(in, out)
		})
		if allocs > 0 {
			t.Errorf("tuner=%v: Process allocated %.1f times per buffer", tuner, allocs)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	e := newTestEngine(b, testConfig(), nil)
	resp, err := convolver.NewImpulseResponse("bench", utils.GenerateComplexWave(24000, testSampleRate, 0.5))
	if err != nil {
		b.Fatal(err)
	}
	e.conv.Install(convolver.NewKernel(resp))

	in := utils.GenerateComplexWave(testFrameSize, testSampleRate, 0.5)
	out := make([]float32, 2*testFrameSize)

	b.ReportAllocs()
	for b.Loop() {
		_ = e.Process(in, out)
	}
}
