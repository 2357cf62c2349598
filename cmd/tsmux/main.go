/*
NAME
  main.go - entry point for the live-video failover MPEG-TS switching
  engine.

DESCRIPTION
  Mirrors cmd/rv/main.go's role: a thin process entry point that loads
  configuration, sets up logging, and wires the configured pipeline before
  handing control to the long-running engine. cmd/rv uses the standard
  library's flag package for a single config-path argument; this binary
  instead uses spf13/cobra, the way jmylchreest-tvarr structures its own
  command surface, since tsmux additionally exposes a "validate" subcommand
  for checking a configuration file without starting the engine.

LICENSE
  See repository LICENSE.
*/

// Command tsmux runs the live-video failover MPEG-TS switching engine.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aolab/tsmux/control"
	"github.com/aolab/tsmux/engine"
	"github.com/aolab/tsmux/ingest"
	"github.com/aolab/tsmux/mxlog"
	"github.com/aolab/tsmux/muxconfig"
	"github.com/aolab/tsmux/notify"
	"github.com/aolab/tsmux/sink"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "tsmux",
		Short: "runs the live-video failover MPEG-TS switching engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/tsmux/config.yaml", "path to the YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "starts the switching engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "validates a configuration file without starting the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := muxconfig.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Println("configuration valid")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := muxconfig.Load(configPath)
	if err != nil {
		return err
	}

	log := mxlog.New(mxlog.Config{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, cfg.Log.Level)

	var sources []engine.SourceParams
	for _, sc := range cfg.Sources {
		sources = append(sources, engine.SourceParams{
			Name:   sc.Name,
			Driver: buildDriver(sc, log),
		})
	}

	sk, err := buildSink(cfg.Sink, log)
	if err != nil {
		return fmt.Errorf("tsmux: building sink: %w", err)
	}

	var notifier *notify.Notifier
	if cfg.Notify.LiveURL != "" || cfg.Notify.FallbackURL != "" {
		notifier = notify.New(cfg.Notify.LiveURL, cfg.Notify.FallbackURL, cfg.Notify.Timeout, log)
		defer notifier.Close()
	}

	eng := engine.New(engine.Params{
		Log:                     log,
		Sources:                 sources,
		Sink:                    sk,
		Notifier:                notifier,
		BufferCapacity:          cfg.BufferCapacity,
		MinConsecutiveForSwitch: cfg.MinConsecutive,
		MaxLiveGap:              cfg.MaxLiveGap,
		FrameRate:               cfg.FrameRate,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng.Start(ctx)

	srv := control.New(eng)
	mux := http.NewServeMux()
	mux.Handle("/metrics", eng.MetricsHandler())
	mux.Handle("/", srv)
	httpServer := &http.Server{Addr: cfg.Control.ListenAddress, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control server failed", "error", err.Error())
		}
	}()

	log.Info("tsmux started", "sources", len(sources))
	<-ctx.Done()
	log.Info("tsmux shutting down")
	httpServer.Close()
	eng.Wait()
	return nil
}

func buildDriver(sc muxconfig.SourceConfig, log mxlog.Logger) ingest.Driver {
	switch sc.Transport {
	case muxconfig.TransportUDP:
		return ingest.NewUDPDriver(sc.Address, log)
	case muxconfig.TransportTCP:
		return ingest.NewTCPDriver(sc.Address, log)
	case muxconfig.TransportFIFO:
		return ingest.NewFIFODriver(sc.Path, log, func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		})
	case muxconfig.TransportProcess:
		return ingest.NewProcessDriver(sc.Command, sc.Args, log)
	default:
		panic("tsmux: unrecognised transport kind: " + sc.Transport)
	}
}

func buildSink(sc muxconfig.SinkConfig, log mxlog.Logger) (sink.Sink, error) {
	switch sc.Kind {
	case "pipe":
		return sink.NewPipeSink(sc.Path, log, sc.RateBps, func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_WRONLY, 0)
		}), nil
	case "socket":
		return sink.NewSocketSink(sc.Address, log, sc.RateBps), nil
	default:
		return nil, fmt.Errorf("tsmux: unrecognised sink kind: %s", sc.Kind)
	}
}
