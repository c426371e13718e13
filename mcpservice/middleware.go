package mcpservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/sessions"
	"golang.org/x/time/rate"
)

// ToolMiddleware wraps a ToolHandler with cross-cutting behavior.
type ToolMiddleware func(next ToolHandler) ToolHandler

// ChainToolMiddleware composes middleware so that the first argument is the
// outermost wrapper.
func ChainToolMiddleware(mws ...ToolMiddleware) ToolMiddleware {
	return func(next ToolHandler) ToolHandler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// LoggingToolMiddleware logs the outcome and duration of every tool call.
// A nil logger falls back to slog.Default().
func LoggingToolMiddleware(log *slog.Logger) ToolMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next ToolHandler) ToolHandler {
		return func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			start := time.Now()
			res, err := next(ctx, session, req)
			if err != nil {
				log.InfoContext(ctx, "tool.call.err", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
				return res, err
			}
			log.DebugContext(ctx, "tool.call.ok", slog.Bool("is_error", res != nil && res.IsError), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return res, nil
		}
	}
}

// TimeoutToolMiddleware bounds each call to d. The handler receives a context
// with the deadline; if it has not returned when the deadline passes the call
// fails with ErrToolTimeout and the handler's eventual result is discarded.
// A non-positive d disables the middleware.
func TimeoutToolMiddleware(d time.Duration) ToolMiddleware {
	return func(next ToolHandler) ToolHandler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type outcome struct {
				res *mcp.CallToolResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := next(ctx, session, req)
				done <- outcome{res, err}
			}()

			select {
			case o := <-done:
				return o.res, o.err
			case <-ctx.Done():
				return nil, ErrToolTimeout
			}
		}
	}
}

// RateLimitToolMiddleware admits calls through a token bucket refilled at r
// tokens per second with the given burst. The bucket is created once and
// shared by every handler the returned middleware wraps. Calls that find the
// bucket empty fail immediately with ErrRateLimited. A non-positive r disables
// the middleware.
func RateLimitToolMiddleware(r float64, burst int) ToolMiddleware {
	if r <= 0 {
		return func(next ToolHandler) ToolHandler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(r), max(burst, 1))
	return func(next ToolHandler) ToolHandler {
		return func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, session, req)
		}
	}
}
