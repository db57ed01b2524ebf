// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ampsim/cmd"
	"ampsim/internal/audio"
	"ampsim/internal/config"
	"ampsim/internal/ir"
	"ampsim/internal/log"
	"ampsim/internal/monitor"
	"ampsim/internal/transport"
	"ampsim/internal/transport/udp"
	"ampsim/internal/tui"
)

const statsInterval = 5 * time.Second

// run owns the engine for the lifetime of the process.
func run(cfg *config.Config, options *cmd.Options) error {
	if options.Pick {
		sel, err := tui.PickDevice()
		if err != nil {
			return err
		}
		if !sel.OK {
			return nil
		}
		cfg.Audio.InputDevice = sel.DeviceID
		cfg.Audio.SampleRate = sel.SampleRate
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	lib := openLibrary(cfg)

	engine, err := audio.NewEngine(cfg, lib)
	if err != nil {
		return err
	}

	stream, err := audio.OpenStream(engine, cfg.Audio)
	if err != nil {
		return err
	}
	defer stream.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// CRITICAL: from here on PortAudio calls engine.Process on its own thread.
	if err := stream.Start(); err != nil {
		return err
	}

	publishers := startTransports(cfg, engine.Monitor())

	if lib != nil && cfg.Amp.WatchIRDir {
		go func() {
			err := lib.Watch(ctx, func(names []string) {
				log.Infof("ir: %d impulse responses available", len(names))
			})
			if err != nil {
				log.Warnf("ir: watcher stopped: %v", err)
			}
		}()
	}

	go reportStats(ctx, engine)

	if options.Record {
		path, err := engine.Control().StartRecording(cfg.Recording.OutputDir)
		if err != nil {
			log.Errorf("recording: %v", err)
		} else {
			log.Infof("recording to %s", path)
		}
	}

	var runErr error
	if options.Headless {
		log.Infof("running headless, press Ctrl+C to stop")
		select {
		case <-ctx.Done():
		case runErr = <-stream.Failed():
		}
	} else {
		runErr = runPanel(ctx, cfg, engine, stream)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if engine.Control().Recording() {
		if err := engine.Control().StopRecording(); err != nil {
			log.Errorf("Error stopping recording: %v", err)
		}
	}

	if err := stream.Stop(); err != nil {
		log.Warnf("%v", err)
	}

	for _, p := range publishers {
		if err := p.Close(); err != nil {
			log.Warnf("transport: %v", err)
		}
	}

	s := engine.Stats()
	log.Infof("processed %d buffers, %d commands applied, %d rejected, %d failed buffers",
		s.Buffers, s.Applied, s.Rejected, s.Failures)
	return runErr
}

// openLibrary returns nil when the IR directory cannot be used; the amp then
// runs without a cabinet.
func openLibrary(cfg *config.Config) *ir.Library {
	if cfg.Amp.IRDir == "" {
		return nil
	}
	lib, err := audio.OpenLibrary(cfg)
	if err != nil {
		log.Warnf("ir: %s unavailable, cabinet disabled: %v", cfg.Amp.IRDir, err)
		return nil
	}
	log.Infof("ir: %d impulse responses in %s", len(lib.Names()), lib.Dir())
	return lib
}

// startTransports starts the enabled snapshot publishers. Failures are
// logged; the amp keeps running without them.
func startTransports(cfg *config.Config, source monitor.Reader) []io.Closer {
	var out []io.Closer
	t := cfg.Transport

	if t.WSEnabled {
		ws := transport.NewWebSocketTransport(t.WSAddress)
		if err := ws.Start(); err != nil {
			log.Errorf("transport: websocket: %v", err)
			_ = ws.Close()
		} else if pump, err := transport.NewPump(t.WSSendInterval, source, ws); err != nil {
			log.Errorf("transport: websocket: %v", err)
			_ = ws.Close()
		} else {
			pump.Start()
			out = append(out, pump)
			log.Infof("transport: websocket on ws://%s%s", ws.Addr(), transport.MonitorPath)
		}
	}

	if t.UDPEnabled {
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			log.Errorf("transport: udp: %v", err)
		} else if pub, err := udp.NewUDPPublisher(t.UDPSendInterval, sender, source); err != nil {
			log.Errorf("transport: udp: %v", err)
			_ = sender.Close()
		} else {
			pub.Start()
			out = append(out, pub)
			log.Infof("transport: udp to %s every %s", sender.Target(), t.UDPSendInterval)
		}
	}

	return out
}

// runPanel shows the front panel until the user quits, a signal arrives or
// the stream fails. Log output goes to a file while the panel owns the
// terminal.
func runPanel(ctx context.Context, cfg *config.Config, engine *audio.Engine, stream *audio.Stream) error {
	logPath := filepath.Join(os.TempDir(), "ampsim.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	fmt.Printf("Logging to %s\n", logPath)
	log.SetOutput(f)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, 1)
	go func() {
		select {
		case err := <-stream.Failed():
			failed <- err
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := tui.StartPanel(ctx, engine.Control(), engine.Monitor(), cfg.Recording.OutputDir); err != nil {
		return err
	}

	select {
	case err := <-failed:
		return err
	default:
		return nil
	}
}

// reportStats logs the engine counters from the control plane. Increases in
// failures or rejections are warnings; they are rate-limited to one line
// per interval.
func reportStats(ctx context.Context, engine *audio.Engine) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var last audio.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := engine.Stats()
			switch {
			case s.Failures > last.Failures:
				log.Warnf("audio: %d failed buffers in the last %s", s.Failures-last.Failures, statsInterval)
			case s.Rejected > last.Rejected:
				log.Warnf("audio: %d control messages rejected", s.Rejected-last.Rejected)
			default:
				log.Debugf("audio: %d buffers, %d commands applied", s.Buffers, s.Applied)
			}
			last = s
		}
	}
}
