// Package runner manages the lifecycle of long-running services:
// ordered startup, signal-driven graceful shutdown, error aggregation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Service represents a service that can be started and stopped.
type Service interface {
	// Name returns a unique identifier for this service.
	// Used for logging and error messages.
	Name() string

	// Start initializes and starts the service. Background work should
	// be spawned on goroutines; Start returns once the service is ready.
	// Must respect context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the service.
	// Should complete within the context timeout.
	Stop(ctx context.Context) error
}

// Runner starts services in order and stops them in reverse.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithShutdownTimeout sets the timeout for graceful shutdown.
// Default is 30 seconds.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = timeout
	}
}

// New creates a new Runner with the given services and options.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts all services, blocks until ctx is cancelled, then stops
// them in reverse order. Startup failure stops the already started
// services and returns the error.
func (r *Runner) Run(ctx context.Context) error {
	started := make([]Service, 0, len(r.services))

	for _, svc := range r.services {
		r.logger.Info("starting service", "service", svc.Name())
		if err := svc.Start(ctx); err != nil {
			r.logger.Error("service failed to start", "service", svc.Name(), "error", err)
			r.stop(started)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}

	<-ctx.Done()
	r.logger.Info("shutting down")
	return r.stop(started)
}

// stop stops services in reverse start order, collecting errors.
func (r *Runner) stop(started []Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("service failed to stop", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		r.logger.Info("service stopped", "service", svc.Name())
	}
	return errors.Join(errs...)
}
