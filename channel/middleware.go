package channel

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Listener handles one inbound message. Returning true keeps the reply open
// until reply is called or ctx ends; returning false closes it, answering
// "no value" if nothing was replied.
type Listener func(ctx context.Context, msg Message, reply ReplyFunc) bool

// Middleware wraps a Listener.
type Middleware func(next Listener) Listener

// Chain composes middlewares; the first is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Listener) Listener {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Recovery turns a listener panic into a logged, closed reply.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Listener) Listener {
		return func(ctx context.Context, msg Message, reply ReplyFunc) (pending bool) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "channel: listener panic recovered",
						"type", msg.Type,
						"panic", r,
						"stack", string(debug.Stack()))
					pending = false
				}
			}()
			return next(ctx, msg, reply)
		}
	}
}

// Logging logs every delivery at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(next Listener) Listener {
		return func(ctx context.Context, msg Message, reply ReplyFunc) bool {
			start := time.Now()
			pending := next(ctx, msg, reply)
			logger.DebugContext(ctx, "channel: delivered",
				"type", msg.Type,
				"sender", msg.Sender,
				"payload_bytes", len(msg.Payload),
				"blob", msg.BlobURL != "",
				"pending", pending,
				"duration_ms", time.Since(start).Milliseconds())
			return pending
		}
	}
}
