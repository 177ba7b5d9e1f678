package sink

import (
	"context"
	"log/slog"
)

// Router fans out views to all configured sinks. One sink error does not
// block the others: errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, v Snapshot) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, v); err != nil {
			r.logger.Warn("sink: send view failed", "surface", v.Surface, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Func delivers views to an in-process function.
type Func func(ctx context.Context, v Snapshot) error

func (f Func) Send(ctx context.Context, v Snapshot) error { return f(ctx, v) }

func (f Func) Close() error { return nil }
