// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ampsim/internal/chain"
	"ampsim/internal/log"
	"ampsim/pkg/bitint"
)

var ErrInvalid = errors.New("invalid configuration")

// DefaultPaths are searched, in order, when LoadConfig gets an empty path.
var DefaultPaths = []string{"ampsim.yaml", "config.yaml"}

// LoadConfig loads configuration from the YAML file at path. If path is
// empty, DefaultPaths are searched and built-in defaults are used when none
// exists. Environment overrides are applied after the file, then the result
// is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		for _, candidate := range DefaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// A chain given in the file replaces the default one as a whole.
		cfg.Amp.Chain = chain.Spec{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if len(cfg.Amp.Chain.Stages) == 0 {
			cfg.Amp.Chain = chain.DefaultSpec()
		}
	}

	cfg.applyEnvOverrides()
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks every field against its allowed range.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return invalid("log_level %q", c.LogLevel)
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		return invalid("device ids must be >= %d", MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate || math.IsNaN(a.SampleRate) {
		return invalid("audio.sample_rate %g outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames || !bitint.IsPowerOfTwo(a.FramesPerBuffer) {
		return invalid("audio.frames_per_buffer %d must be a power of two <= %d", a.FramesPerBuffer, MaxBufferFrames)
	}
	if a.OutputChannels != 1 && a.OutputChannels != 2 {
		return invalid("audio.output_channels %d must be 1 or 2", a.OutputChannels)
	}
	if a.MaxConsecutiveFailures <= 0 {
		return invalid("audio.max_consecutive_failures must be positive")
	}

	m := c.Amp
	switch m.Oversampling {
	case 1, 2, 4, 8, 16:
	default:
		return invalid("amp.oversampling %d must be 1, 2, 4, 8 or 16", m.Oversampling)
	}
	if !(m.IRGain >= 0 && m.IRGain <= 1) {
		return invalid("amp.ir_gain %g outside [0, 1]", m.IRGain)
	}
	if m.MaxIRSeconds <= 0 || m.MaxIRSeconds > MaxIRSeconds {
		return invalid("amp.max_ir_seconds %g outside (0, %g]", m.MaxIRSeconds, MaxIRSeconds)
	}
	if m.CommandQueue <= 0 {
		return invalid("amp.command_queue must be positive")
	}
	if m.IR != "" && m.IRDir == "" {
		return invalid("amp.ir %q set without amp.ir_dir", m.IR)
	}

	if _, err := chain.Build(m.Chain, c.WorkingRate()); err != nil {
		return invalid("amp.chain: %v", err)
	}

	if q := c.Recording.QueueBlocks; q <= 0 || q > MaxQueueBlocks {
		return invalid("recording.queue_blocks %d outside [1, %d]", q, MaxQueueBlocks)
	}

	t := c.Transport
	if t.UDPEnabled {
		if err := validateEndpoint("udp", t.UDPTargetAddress, t.UDPSendInterval); err != nil {
			return err
		}
	}
	if t.WSEnabled {
		if err := validateEndpoint("ws", t.WSAddress, t.WSSendInterval); err != nil {
			return err
		}
	}

	return nil
}

func validateEndpoint(name, addr string, interval time.Duration) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return invalid("transport.%s address %q: %v", name, addr, err)
	}
	if interval <= 0 {
		return invalid("transport.%s send interval must be positive", name)
	}
	return nil
}

// applyEnvOverrides lets ENV_* variables override file values. Malformed
// values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	boolEnv := func(key string, dst *bool) {
		if val, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
				return
			}
			*dst = b
			log.Debugf("configuration: overriding from %s: %v", key, b)
		}
	}
	stringEnv := func(key string, dst *string) {
		if val, ok := os.LookupEnv(key); ok {
			*dst = val
			log.Debugf("configuration: overriding from %s: %s", key, val)
		}
	}
	durationEnv := func(key string, dst *time.Duration) {
		if val, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
				return
			}
			*dst = d
			log.Debugf("configuration: overriding from %s: %s", key, d)
		}
	}

	// ENV_{...}
	// These are general overrides.
	boolEnv("ENV_DEBUG", &c.Debug)
	stringEnv("ENV_LOG_LEVEL", &c.LogLevel)

	// ENV_IR_DIR, ENV_OVERSAMPLING
	stringEnv("ENV_IR_DIR", &c.Amp.IRDir)
	if val, ok := os.LookupEnv("ENV_OVERSAMPLING"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Warnf("configuration: ignoring ENV_OVERSAMPLING=%q: %v", val, err)
		} else {
			c.Amp.Oversampling = n
		}
	}

	// ENV_UDP_{...}, ENV_WS_{...}
	// These are specific to the transport layer.
	boolEnv("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	stringEnv("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	durationEnv("ENV_UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)
	boolEnv("ENV_WS_ENABLED", &c.Transport.WSEnabled)
	stringEnv("ENV_WS_ADDRESS", &c.Transport.WSAddress)
}
