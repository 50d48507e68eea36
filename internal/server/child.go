package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/eventloop"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
	"github.com/skypro1111/rtsp-supervisor/internal/portpool"
	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
)

// ChildOptions configures the child side of process isolation
type ChildOptions struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Ports   portpool.Pair
	Conn    net.Conn

	// Options customize the child worker; the teardown hook is reserved
	Options []rtsp.Option
}

// RunChild serves a single inherited connection on a fresh loop. It returns
// once the client has been torn down and the exit grace delay has passed, or
// when ctx is cancelled.
func RunChild(ctx context.Context, opts ChildOptions) error {
	logger := opts.Logger.With(
		slog.String("ports", opts.Ports.String()),
	)
	grace := opts.Config.Process.GetExitGrace()

	loop := eventloop.New(logger)
	workerOpts := append(append([]rtsp.Option{}, opts.Options...),
		rtsp.WithTeardownHook(func(c *rtsp.Client) {
			logger.Info("Child client finished", slog.Duration("exit_grace", grace))
			time.AfterFunc(grace, loop.Stop)
		}),
	)
	worker := rtsp.NewWorker(loop, logger, opts.Metrics, rtsp.NewWorkerConfig(opts.Config), workerOpts...)

	if !loop.Post(func() { rtsp.NewClient(worker, opts.Conn) }) {
		opts.Conn.Close()
		return fmt.Errorf("failed to start child client: %w", eventloop.ErrStopped)
	}

	logger.Info("Child process serving connection",
		slog.String("remote_addr", opts.Conn.RemoteAddr().String()),
	)

	err := loop.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("child event loop failed: %w", err)
	}
	return nil
}
