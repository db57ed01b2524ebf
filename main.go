// SPDX-License-Identifier: MIT
package main

import (
	"errors"
	"fmt"
	"os"

	"ampsim/cmd"
	"ampsim/internal/audio"
	"ampsim/internal/config"
	"ampsim/internal/log"
	"ampsim/pkg/build"
)

// main is the entry point for the amp simulator.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Build the engine and open the duplex stream
//   - Start transports, IR watcher and recording if enabled
//   - Run the front panel or wait for a signal
//
// 3. Shutdown Phase (Cold Path):
//   - Stop recording if active
//   - Stop the stream and transports
//   - Terminate PortAudio
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Development builds run without ldflags.
	if err := build.Initialize(); err != nil && !errors.Is(err, build.ErrMissingFlag) {
		log.Fatalf("%v", err)
	}

	options, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if options.Command == "" {
		return
	}

	cfg := options.Config
	if err := log.Configure(cfg.LogLevel); err != nil {
		log.Fatalf("%v", err)
	}

	if options.Command == cmd.CommandIRs {
		if err := listIRs(cfg); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	// Initialize PortAudio subsystem
	if err := audio.Initialize(); err != nil {
		log.Fatalf("%v", err)
	}

	if options.Command == cmd.CommandList {
		err = audio.ListDevices(os.Stdout)
	} else {
		err = run(cfg, options)
	}

	if terr := audio.Terminate(); terr != nil {
		log.Warnf("%v", terr)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// listIRs prints the impulse responses the engine would see.
func listIRs(cfg *config.Config) error {
	lib, err := audio.OpenLibrary(cfg)
	if err != nil {
		return err
	}
	names := lib.Names()
	if len(names) == 0 {
		fmt.Printf("No impulse responses in %s\n", lib.Dir())
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
