//go:build !windows

// Package service runs the selector in the foreground on Unix systems,
// stopping on SIGINT or SIGTERM.
package service

import (
	"context"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Runner wraps the selector run loop.
type Runner struct {
	logger  *zap.Logger
	startFn func(ctx context.Context)
}

// New creates a Runner. startFn must return once ctx is cancelled.
func New(logger *zap.Logger, startFn func(ctx context.Context)) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:  logger,
		startFn: startFn,
	}
}

// Run calls startFn with a context cancelled by SIGINT or SIGTERM.
func (r *Runner) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	finished := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			r.logger.Info("Received signal, shutting down")
		case <-finished:
		}
	}()

	r.startFn(ctx)
	close(finished)
	<-watched
	return nil
}
