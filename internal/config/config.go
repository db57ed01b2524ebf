// SPDX-License-Identifier: MIT
package config

import (
	"time"

	"ampsim/internal/chain"
)

// Core configuration constants that define the boundaries and defaults
// for the amp engine.
const (
	// Audio defaults
	DefaultDeviceID        = MinDeviceID // system default device
	DefaultSampleRate      = 48000
	DefaultFramesPerBuffer = 256
	DefaultLowLatency      = true
	DefaultOutputChannels  = 2

	// Amp defaults
	DefaultOversampling = 4
	DefaultIRDir        = "./irs"
	DefaultIRGain       = 1.0
	DefaultMaxIRSeconds = 5.0
	DefaultCommandQueue = 16
	DefaultTunerWindow  = "hann"

	// Recording defaults
	DefaultRecordingDir = "./recordings"
	DefaultQueueBlocks  = 64

	// Transport defaults
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond
	DefaultWSAddress        = "127.0.0.1:8080"
	DefaultWSSendInterval   = 50 * time.Millisecond

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxIRSeconds    = 30.0
	MaxQueueBlocks  = 4096

	// Error handling configuration
	DefaultMaxConsecutiveFailures = 5 // Max callback failures before stopping
)

// Config represents the main application configuration, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Forces log_level to debug.
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error.
	Audio     AudioConfig     `yaml:"audio"`
	Amp       AmpConfig       `yaml:"amp"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds driver settings.
type AudioConfig struct {
	InputDevice            int     `yaml:"input_device"`  // PortAudio device index (-1 for default).
	OutputDevice           int     `yaml:"output_device"` // PortAudio device index (-1 for default).
	SampleRate             float64 `yaml:"sample_rate"`
	FramesPerBuffer        int     `yaml:"frames_per_buffer"`
	LowLatency             bool    `yaml:"low_latency"`
	OutputChannels         int     `yaml:"output_channels"` // 1 mono, 2 duplicated stereo.
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
}

// AmpConfig holds the signal chain and cabinet settings.
type AmpConfig struct {
	Oversampling int        `yaml:"oversampling"` // 1, 2, 4, 8 or 16.
	IRDir        string     `yaml:"ir_dir"`
	IR           string     `yaml:"ir"` // Initial IR name relative to ir_dir; empty for none.
	IRGain       float32    `yaml:"ir_gain"`
	IRBypass     bool       `yaml:"ir_bypass"`
	WatchIRDir   bool       `yaml:"watch_ir_dir"`
	MaxIRSeconds float64    `yaml:"max_ir_seconds"`
	CommandQueue int        `yaml:"command_queue"`
	TunerWindow  string     `yaml:"tuner_window"`
	Chain        chain.Spec `yaml:"chain"`
}

// RecordingConfig holds settings for recording the processed output.
type RecordingConfig struct {
	OutputDir   string `yaml:"output_dir"`
	QueueBlocks int    `yaml:"queue_blocks"` // Blocks buffered between audio thread and writer.
}

// TransportConfig holds settings for publishing monitor snapshots.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
	WSEnabled        bool          `yaml:"ws_enabled"`
	WSAddress        string        `yaml:"ws_address"`
	WSSendInterval   time.Duration `yaml:"ws_send_interval"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:            DefaultDeviceID,
			OutputDevice:           DefaultDeviceID,
			SampleRate:             DefaultSampleRate,
			FramesPerBuffer:        DefaultFramesPerBuffer,
			LowLatency:             DefaultLowLatency,
			OutputChannels:         DefaultOutputChannels,
			MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		},
		Amp: AmpConfig{
			Oversampling: DefaultOversampling,
			IRDir:        DefaultIRDir,
			IRGain:       DefaultIRGain,
			MaxIRSeconds: DefaultMaxIRSeconds,
			CommandQueue: DefaultCommandQueue,
			TunerWindow:  DefaultTunerWindow,
			Chain:        chain.DefaultSpec(),
		},
		Recording: RecordingConfig{
			OutputDir:   DefaultRecordingDir,
			QueueBlocks: DefaultQueueBlocks,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
			WSAddress:        DefaultWSAddress,
			WSSendInterval:   DefaultWSSendInterval,
		},
	}
}

// WorkingRate is the oversampled rate the stage chain runs at.
func (c *Config) WorkingRate() float64 {
	return c.Audio.SampleRate * float64(c.Amp.Oversampling)
}

// MaxIRDuration returns Amp.MaxIRSeconds as a duration.
func (c *Config) MaxIRDuration() time.Duration {
	return time.Duration(c.Amp.MaxIRSeconds * float64(time.Second))
}
