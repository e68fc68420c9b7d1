// Command audioplayer is the core NI-DAQ audio playback engine binary: a
// "serve" subcommand that runs the Control Protocol and ambient HTTP
// servers, and a "metadata" subcommand that extracts an AudioAsset without
// starting any server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codynhanpham/nidaq-audioplayer/internal/config"
	"github.com/codynhanpham/nidaq-audioplayer/internal/control"
	"github.com/codynhanpham/nidaq-audioplayer/internal/daq"
	"github.com/codynhanpham/nidaq-audioplayer/internal/decode"
	"github.com/codynhanpham/nidaq-audioplayer/internal/httpapi"
	"github.com/codynhanpham/nidaq-audioplayer/internal/library"
	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/metrics"
	"github.com/codynhanpham/nidaq-audioplayer/internal/progress"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump/daqtask"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitBadArgs      = 2
	exitFileNotFound = 3
	exitUnsupported  = 4
)

var configFile string

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "audioplayer",
		Short:         "NI-DAQ audio playback engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config.yaml/json file")
	root.AddCommand(newServeCmd())
	root.AddCommand(newMetadataCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, decode.ErrUnsupportedCodec) {
			return exitUnsupported
		}
		if errors.Is(err, os.ErrNotExist) {
			return exitFileNotFound
		}
		return exitBadArgs
	}
	return exitSuccess
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control protocol and ambient HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newMetadataCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "metadata <path>",
		Short: "Extract an AudioAsset as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetadata(args[0], out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write JSON to this file instead of stdout")
	return cmd
}

func runMetadata(path string, out string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	asset, err := library.Metadata(path)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(asset, "", "  ")
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Println(string(b))
		return nil
	}
	return os.WriteFile(out, b, 0o644)
}

func serve() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel, cfg.LogPretty)
	logger := logging.Component("main")

	machine := transport.NewMachine()
	for _, s := range []transport.State{transport.Idle, transport.Loaded, transport.Playing, transport.Paused, transport.Seeking, transport.Completed} {
		s := s
		machine.OnEnter(s, func(*transport.Job) { metrics.SetTransportState(knownStates(), string(s)) })
	}

	emitter := progress.New(machine, cfg.ProgressTickInterval)
	emitter.Start()
	defer emitter.Stop()

	newTask := func(c daqtask.Config) daqtask.Task { return daqtask.NewSimulatedTask(c) }
	framePump := pump.New(machine, newTask, emitter,
		pump.WithUnderflowEscalation(cfg.UnderflowEscalationCount, cfg.UnderflowEscalationWindow))

	registry := daq.NewRegistry(daq.NewSimulatedProvider())
	pool := control.NewDefaultWorkerPool()

	engine := control.NewEngine(machine, framePump, registry, pool, cfg.LibraryDir, os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlAddr := fmt.Sprintf("localhost:%d", cfg.ControlPort)
	controlServer := control.NewServer(controlAddr, engine, emitter)

	debugAddr := fmt.Sprintf("localhost:%d", cfg.DebugPort)
	debugServer := httpapi.NewServer(debugAddr, machine)

	errCh := make(chan error, 2)
	go func() { errCh <- controlServer.Serve(ctx) }()
	go func() { errCh <- debugServer.Serve(ctx) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		logger.Info().Msg("shutting down on signal")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited with error")
		}
		cancel()
	}
	<-errCh
	return nil
}

func knownStates() []string {
	return []string{"idle", "loaded", "playing", "paused", "seeking", "completed"}
}
