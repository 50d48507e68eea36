package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
)

type testEnv struct {
	cfg      *config.Config
	loop     *eventloop.Loop
	worker   *rtsp.Worker
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Server.MaxConnections = 2
	cfg.Process.RTPPortMin = 20000
	cfg.Process.RTPPortMax = 20006

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := eventloop.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	return &testEnv{
		cfg:      &cfg,
		loop:     loop,
		worker:   rtsp.NewWorker(loop, logger, m, rtsp.NewWorkerConfig(&cfg)),
		metrics:  m,
		registry: registry,
		logger:   logger,
	}
}

// do runs fn on the loop and waits for it
func (e *testEnv) do(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.loop.Call(ctx, fn))
}
