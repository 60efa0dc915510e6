//go:build windows

// Package service runs the selector under the Windows SCM when started as
// a service, and in the foreground otherwise.
package service

import (
	"context"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"

	"github.com/vitalis-app/selector/internal/errors"
)

const serviceName = "AdaptiveSelector"

// stopGrace bounds how long Stop waits for in-flight inferences and the
// final chart export.
const stopGrace = 10 * time.Second

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

// Run enters the SCM control loop when launched by the service manager,
// otherwise runs in the foreground until interrupted.
func (r *Runner) Run() error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return errors.Wrap(err, "detect service mode")
	}
	if !isService {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		r.startFn(ctx)
		return nil
	}
	r.logger.Info("Running as Windows service")
	return svc.Run(serviceName, r)
}

// Execute implements svc.Handler.
func (r *Runner) Execute(args []string, req <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.startFn(ctx)
		close(done)
	}()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	r.logger.Info("Windows service started")

	for {
		select {
		case <-done:
			r.logger.Warn("Selector exited on its own")
			return false, 0
		case c := <-req:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				r.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(stopGrace):
					r.logger.Warn("Selector did not stop in time", zap.Duration("grace", stopGrace))
				}
				return false, 0
			default:
				r.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
