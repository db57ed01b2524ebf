// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestNewConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if got := cfg.WorkingRate(); got != DefaultSampleRate*DefaultOversampling {
		t.Errorf("WorkingRate() = %g", got)
	}
	if got := cfg.MaxIRDuration(); got != 5*time.Second {
		t.Errorf("MaxIRDuration() = %s", got)
	}
	if len(cfg.Amp.Chain.Stages) == 0 {
		t.Error("default chain has no stages")
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: warn
audio:
  sample_rate: 44100
  frames_per_buffer: 128
  output_channels: 1
amp:
  oversampling: 8
  ir_gain: 0.5
  chain:
    stages:
      - {name: boost, kind: gain, params: {gain_db: 3}}
      - {kind: drive, params: {drive: 4}}
    channels:
      - {id: 0, main: [0, 1]}
transport:
  udp_enabled: true
  udp_send_interval: 10ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LogLevel != "warn" || cfg.Audio.SampleRate != 44100 || cfg.Audio.FramesPerBuffer != 128 {
		t.Errorf("audio section not applied: %+v", cfg.Audio)
	}
	if cfg.Audio.OutputChannels != 1 {
		t.Errorf("OutputChannels = %d", cfg.Audio.OutputChannels)
	}
	if cfg.Amp.Oversampling != 8 || cfg.Amp.IRGain != 0.5 {
		t.Errorf("amp section not applied: %+v", cfg.Amp)
	}
	if cfg.Transport.UDPSendInterval != 10*time.Millisecond || !cfg.Transport.UDPEnabled {
		t.Errorf("transport section not applied: %+v", cfg.Transport)
	}

	spec := cfg.Amp.Chain
	if len(spec.Stages) != 2 || spec.Stages[0].Name != "boost" || spec.Stages[1].Params["drive"] != 4 {
		t.Errorf("chain spec = %+v", spec)
	}
	if len(spec.Channels) != 1 || len(spec.Channels[0].Main) != 2 {
		t.Errorf("channels = %+v", spec.Channels)
	}

	// Untouched fields keep their defaults.
	if cfg.Recording.QueueBlocks != DefaultQueueBlocks || cfg.Amp.IRDir != DefaultIRDir {
		t.Errorf("defaults lost: %+v %+v", cfg.Recording, cfg.Amp.IRDir)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_DEBUG", "true")
	t.Setenv("ENV_IR_DIR", "/srv/cabs")
	t.Setenv("ENV_OVERSAMPLING", "2")
	t.Setenv("ENV_UDP_ENABLED", "1")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "10.0.0.2:7000")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "5ms")
	t.Setenv("ENV_WS_ADDRESS", "0.0.0.0:9999")

	cfg, err := LoadConfig(writeTempConfig(t, "log_level: error\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug || cfg.LogLevel != "debug" {
		t.Errorf("debug override: Debug=%v LogLevel=%q", cfg.Debug, cfg.LogLevel)
	}
	if cfg.Amp.IRDir != "/srv/cabs" || cfg.Amp.Oversampling != 2 {
		t.Errorf("amp overrides: %+v", cfg.Amp)
	}
	tr := cfg.Transport
	if !tr.UDPEnabled || tr.UDPTargetAddress != "10.0.0.2:7000" || tr.UDPSendInterval != 5*time.Millisecond {
		t.Errorf("udp overrides: %+v", tr)
	}
	if tr.WSAddress != "0.0.0.0:9999" {
		t.Errorf("WSAddress = %q", tr.WSAddress)
	}
}

func TestLoadConfig_MalformedEnvIgnored(t *testing.T) {
	t.Setenv("ENV_OVERSAMPLING", "lots")
	t.Setenv("ENV_UDP_ENABLED", "maybe")

	cfg, err := LoadConfig(writeTempConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Amp.Oversampling != DefaultOversampling || cfg.Transport.UDPEnabled {
		t.Errorf("malformed env applied: oversampling %d udp %v", cfg.Amp.Oversampling, cfg.Transport.UDPEnabled)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"input device", func(c *Config) { c.Audio.InputDevice = -2 }},
		{"sample rate low", func(c *Config) { c.Audio.SampleRate = 4000 }},
		{"sample rate high", func(c *Config) { c.Audio.SampleRate = 384000 }},
		{"frames not power of two", func(c *Config) { c.Audio.FramesPerBuffer = 300 }},
		{"frames too large", func(c *Config) { c.Audio.FramesPerBuffer = 16384 }},
		{"frames zero", func(c *Config) { c.Audio.FramesPerBuffer = 0 }},
		{"output channels", func(c *Config) { c.Audio.OutputChannels = 6 }},
		{"failures", func(c *Config) { c.Audio.MaxConsecutiveFailures = 0 }},
		{"oversampling", func(c *Config) { c.Amp.Oversampling = 3 }},
		{"ir gain", func(c *Config) { c.Amp.IRGain = 1.5 }},
		{"max ir seconds", func(c *Config) { c.Amp.MaxIRSeconds = 0 }},
		{"command queue", func(c *Config) { c.Amp.CommandQueue = 0 }},
		{"ir without dir", func(c *Config) { c.Amp.IRDir = ""; c.Amp.IR = "a.wav" }},
		{"chain stage kind", func(c *Config) { c.Amp.Chain.Stages[0].Kind = "phaser" }},
		{"chain channel index", func(c *Config) { c.Amp.Chain.Channels[0].Main = []int{99} }},
		{"queue blocks", func(c *Config) { c.Recording.QueueBlocks = MaxQueueBlocks + 1 }},
		{"udp address", func(c *Config) { c.Transport.UDPEnabled = true; c.Transport.UDPTargetAddress = "nohost" }},
		{"ws interval", func(c *Config) { c.Transport.WSEnabled = true; c.Transport.WSSendInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadConfig_ChainWithoutChannels(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
amp:
  chain:
    stages:
      - {kind: gain}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("stale default channels kept: %v", err)
	}
	if len(cfg.Amp.Chain.Stages) != 1 || len(cfg.Amp.Chain.Channels) != 0 {
		t.Errorf("chain = %+v", cfg.Amp.Chain)
	}
}

func TestValidateIgnoresDisabledTransports(t *testing.T) {
	t.Parallel()
	cfg := NewConfig()
	cfg.Transport.UDPTargetAddress = "garbage"
	cfg.Transport.WSSendInterval = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled transports validated: %v", err)
	}
}
