package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
	"github.com/skypro1111/rtsp-supervisor/internal/portpool"
	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
	"github.com/skypro1111/rtsp-supervisor/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "rtsp-supervisor"
	serviceVersion    = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	child := flag.Bool("child", false, "Serve the inherited connection as a child process")
	rtpPort := flag.Int("rtp-port", 0, "RTP port reserved for the child")
	rtcpPort := flag.Int("rtcp-port", 0, "RTCP port reserved for the child")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	if *child {
		os.Exit(runChild(cfg, logger, portpool.Pair{RTP: *rtpPort, RTCP: *rtcpPort}))
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("rtsp_port", cfg.Server.RTSPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("mode", cfg.Server.Mode),
		slog.Int("max_connections", cfg.Server.MaxConnections),
		slog.Duration("soft_timeout", cfg.Liveness.GetSoftTimeout()),
		slog.Duration("hard_timeout", cfg.Liveness.GetHardTimeout()),
		slog.Bool("heartbeat_policy", cfg.Liveness.HeartbeatPolicy),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics on a dedicated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	loop := eventloop.New(logger)
	worker := rtsp.NewWorker(loop, logger, appMetrics, rtsp.NewWorkerConfig(cfg))

	model, err := newConnectionModel(cfg, *configPath, worker)
	if err != nil {
		logger.Error("Failed to create connection model", slog.String("error", err.Error()))
		os.Exit(1)
	}

	listener, err := server.Listen(cfg.Server)
	if err != nil {
		logger.Error("Failed to start RTSP listener", slog.String("error", err.Error()))
		os.Exit(1)
	}
	gate := server.NewGate(listener, worker, model, cfg.Server.MaxConnections)

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(ctx)
	}()

	var startErr error
	if err := loop.Call(ctx, func() { startErr = model.Start() }); err != nil || startErr != nil {
		logger.Error("Failed to start connection model",
			slog.Any("error", firstError(err, startErr)),
		)
		os.Exit(1)
	}

	gate.Start()

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, worker, model, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("rtsp_address", gate.Addr().String()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-loopDone:
		logger.Error("Event loop exited", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop accepting RTSP connections
	if err := gate.Close(); err != nil {
		logger.Error("Error stopping RTSP listener", slog.String("error", err.Error()))
	}

	// Release clients or children, then let queued teardowns run
	if err := loop.Call(shutdownCtx, model.Close); err != nil {
		logger.Error("Error closing connection model", slog.String("error", err.Error()))
	}
	if err := loop.Call(shutdownCtx, func() {}); err != nil {
		logger.Error("Error draining event loop", slog.String("error", err.Error()))
	}

	loop.Stop()
	<-loop.Done()

	logger.Info("Final server statistics",
		slog.Int64("connections", worker.Connections()),
		slog.Uint64("callbacks_dispatched", loop.Dispatched()),
	)

	logger.Info("Service stopped")
}

// newConnectionModel selects the execution model configured for the server
func newConnectionModel(cfg *config.Config, configPath string, worker *rtsp.Worker) (server.ConnectionModel, error) {
	if cfg.Server.Mode != config.ModeProcess {
		return server.NewCooperativeModel(worker), nil
	}

	spawner, err := server.NewExecSpawner(worker.Logger(), "-config", configPath)
	if err != nil {
		return nil, err
	}
	waiter, err := server.NewWaiter()
	if err != nil {
		return nil, err
	}
	return server.NewProcessModel(worker, cfg.Process, spawner, waiter)
}

// runChild serves the connection inherited from the parent and returns the exit code
func runChild(cfg *config.Config, logger *slog.Logger, ports portpool.Pair) int {
	logger = logger.With(slog.Int("pid", os.Getpid()))

	conn, err := server.InheritedConn()
	if err != nil {
		logger.Error("Failed to take over client connection", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.RunChild(ctx, server.ChildOptions{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		Ports:   ports,
		Conn:    conn,
	})
	if err != nil {
		logger.Error("Child process failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
