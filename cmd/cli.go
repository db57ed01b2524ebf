// SPDX-License-Identifier: MIT
package cmd

import (
	"io"

	"ampsim/internal/config"
	"ampsim/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected on the command line.
const (
	CommandRun  = "run"
	CommandList = "list"
	CommandIRs  = "irs"
)

// Options is the result of parsing the command line. Command is empty when
// nothing should run, e.g. after --help or --version.
type Options struct {
	Command  string
	Config   *config.Config
	Pick     bool // choose the input device interactively before starting
	Headless bool // no front panel; run until a signal arrives
	Record   bool // start recording as soon as the stream is running
}

// flags mirrors the command-line switches. Only the ones the user set
// override the loaded configuration.
type flags struct {
	configPath   string
	inputDevice  int
	outputDevice int
	sampleRate   float64
	frames       int
	lowLatency   bool
	channels     int
	oversampling int
	irDir        string
	ir           string
	irGain       float32
	bypass       bool
	watch        bool
	recordDir    string
	udp          bool
	udpAddr      string
	ws           bool
	wsAddr       string
	verbose      bool
}

// ParseArgs parses args (without the program name) into Options.
func ParseArgs(args []string, stdout io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return options.resolve(cmd, f, CommandRun)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return options.resolve(cmd, f, CommandList)
		},
	})

	// IRs command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "irs",
		Short: "List the impulse responses found in the IR directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return options.resolve(cmd, f, CommandIRs)
		},
	})

	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&f.configPath, "config", "f", "",
		"Path to a YAML configuration file (default ampsim.yaml or config.yaml if present)")

	// Audio Device Configuration
	pf.IntVarP(&f.inputDevice, "input", "i", config.DefaultDeviceID,
		"Input device ID. Use 'list' command to see available devices.")
	pf.IntVarP(&f.outputDevice, "output", "o", config.DefaultDeviceID,
		"Output device ID. Use 'list' command to see available devices.")
	pf.Float64VarP(&f.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&f.frames, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&f.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")
	pf.IntVarP(&f.channels, "channels", "c", config.DefaultOutputChannels,
		"Output channels (1=mono, 2=stereo)")

	// Amp Configuration
	pf.IntVarP(&f.oversampling, "oversampling", "x", config.DefaultOversampling,
		"Oversampling factor for the stage chain (1, 2, 4, 8 or 16)")
	pf.StringVar(&f.irDir, "ir-dir", config.DefaultIRDir,
		"Directory scanned for cabinet impulse responses")
	pf.StringVar(&f.ir, "ir", "",
		"Initial impulse response, relative to --ir-dir")
	pf.Float32Var(&f.irGain, "ir-gain", config.DefaultIRGain,
		"Cabinet output gain in [0, 1]")
	pf.BoolVar(&f.bypass, "bypass", false,
		"Start with the cabinet bypassed")
	pf.BoolVar(&f.watch, "watch", false,
		"Rescan the IR directory when files change")

	// Recording Configuration
	pf.StringVar(&f.recordDir, "record-dir", config.DefaultRecordingDir,
		"Directory recordings are written to")

	// Transport Configuration
	pf.BoolVar(&f.udp, "udp", false, "Publish meter snapshots over UDP")
	pf.StringVar(&f.udpAddr, "udp-addr", config.DefaultUDPTargetAddress, "UDP target address")
	pf.BoolVar(&f.ws, "ws", false, "Serve meter snapshots over WebSocket")
	pf.StringVar(&f.wsAddr, "ws-addr", config.DefaultWSAddress, "WebSocket listen address")

	// Debug Configuration
	pf.BoolVarP(&f.verbose, "verbose", "v", false,
		"Show verbose output")

	// Run-only switches
	rootCmd.Flags().BoolVarP(&options.Record, "record", "r", false,
		"Start recording the processed output immediately")
	rootCmd.Flags().BoolVarP(&options.Pick, "pick", "p", false,
		"Pick the input device interactively")
	rootCmd.Flags().BoolVar(&options.Headless, "no-tui", false,
		"Run without the front panel")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	return options, nil
}

// resolve loads the configuration and applies the flags the user set.
func (o *Options) resolve(cmd *cobra.Command, f *flags, command string) error {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}

	set := cmd.Flags().Changed
	if set("input") {
		cfg.Audio.InputDevice = f.inputDevice
	}
	if set("output") {
		cfg.Audio.OutputDevice = f.outputDevice
	}
	if set("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if set("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = f.frames
	}
	if set("low-latency") {
		cfg.Audio.LowLatency = f.lowLatency
	}
	if set("channels") {
		cfg.Audio.OutputChannels = f.channels
	}
	if set("oversampling") {
		cfg.Amp.Oversampling = f.oversampling
	}
	if set("ir-dir") {
		cfg.Amp.IRDir = f.irDir
	}
	if set("ir") {
		cfg.Amp.IR = f.ir
	}
	if set("ir-gain") {
		cfg.Amp.IRGain = f.irGain
	}
	if set("bypass") {
		cfg.Amp.IRBypass = f.bypass
	}
	if set("watch") {
		cfg.Amp.WatchIRDir = f.watch
	}
	if set("record-dir") {
		cfg.Recording.OutputDir = f.recordDir
	}
	if set("udp") {
		cfg.Transport.UDPEnabled = f.udp
	}
	if set("udp-addr") {
		cfg.Transport.UDPTargetAddress = f.udpAddr
	}
	if set("ws") {
		cfg.Transport.WSEnabled = f.ws
	}
	if set("ws-addr") {
		cfg.Transport.WSAddress = f.wsAddr
	}
	if f.verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	o.Command = command
	o.Config = cfg
	return nil
}
