package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeoverlay/internal/protocol"
	"codeoverlay/internal/transport"
	"codeoverlay/internal/version"

	"github.com/spf13/cobra"
)

var (
	serveTransport   string
	serveAddr        string
	serveMetrics     bool
	serveMetricsAddr string
	serveNoCache     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overlay engine for an editor",
	Long: `Run the overlay engine. Inbound editor events and outbound overlay
messages are JSON objects with a "type" field.

With --transport stdio (the default) messages are exchanged one per line on
stdin/stdout and logs go to stderr. With --transport websocket the engine
listens on --addr and broadcasts overlay messages to every connected client.

Examples:
  codeoverlay serve
  codeoverlay serve --transport websocket --addr 127.0.0.1:7878
  codeoverlay serve --metrics --metrics-addr 127.0.0.1:9464`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "Transport: stdio or websocket (default from config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "WebSocket listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Expose Prometheus metrics")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Metrics listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCache, "no-cache", false, "Disable the on-disk analysis cache")
}

func runServe(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loaded.Config
	if serveTransport != "" {
		cfg.Transport.Mode = serveTransport
	}
	if serveAddr != "" {
		cfg.Transport.Addr = serveAddr
	}
	if serveMetrics {
		cfg.Metrics.Enabled = true
	}
	if serveMetricsAddr != "" {
		cfg.Metrics.Addr = serveMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer logCloser.Close()
	if loaded.ConfigPath != "" {
		logger.Debug("loaded config", "path", loaded.ConfigPath)
	}

	var (
		sink protocol.Sink
		hub  *transport.Hub
	)
	switch cfg.Transport.Mode {
	case "websocket":
		hub = transport.NewHub(nil, logger)
		sink = hub
	default:
		sink = transport.NewLineSink(os.Stdout)
	}

	eng, err := newEngine(cfg, logger, engineOptions{Sink: sink, NoCache: serveNoCache})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	if cfg.Metrics.Enabled {
		go func() {
			if err := eng.metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err.Error())
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("overlay engine started", "version", version.Info(), "protocol", version.ProtocolVersion,
			"transport", cfg.Transport.Mode, "pid", os.Getpid())
		if hub != nil {
			hub.SetHandler(eng.workspace)
			serverErr <- hub.ListenAndServe(ctx, cfg.Transport.Addr)
			return
		}
		serverErr <- transport.ServeLines(ctx, os.Stdin, eng.workspace)
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("transport error", "error", runErr.Error())
		} else {
			logger.Info("editor disconnected")
		}
	case sig := <-shutdown:
		logger.Info("received shutdown signal", "signal", sig.String())
	}
	cancel()

	if err := eng.close(10 * time.Second); err != nil {
		logger.Error("error during shutdown", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("overlay engine stopped")
	return runErr
}
