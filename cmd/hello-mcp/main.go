// Command hello-mcp serves the echo tool over line-delimited JSON-RPC on
// stdin/stdout. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/hello-mcp-go/examples/echo"
	"github.com/ggoodman/hello-mcp-go/internal/logctx"
	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/mcpservice"
	"github.com/ggoodman/hello-mcp-go/stdio"
	"github.com/joeshaw/envdecode"
)

const banner = "Hello MCP Server running on stdio"

type config struct {
	// LogLevel is the initial slog level. ENV: HELLO_MCP_LOG_LEVEL
	LogLevel string `env:"HELLO_MCP_LOG_LEVEL,default=info"`
	// ToolTimeout bounds every tool call; zero disables. ENV: HELLO_MCP_TOOL_TIMEOUT
	ToolTimeout time.Duration `env:"HELLO_MCP_TOOL_TIMEOUT,default=10s"`
	// RateLimit is the sustained tool calls per second; zero disables.
	// ENV: HELLO_MCP_RATE_LIMIT
	RateLimit float64 `env:"HELLO_MCP_RATE_LIMIT,default=0"`
	// RateBurst is the token bucket size. ENV: HELLO_MCP_RATE_BURST
	RateBurst int `env:"HELLO_MCP_RATE_BURST,default=10"`
	// ProtocolVersion is offered to clients requesting an unsupported
	// revision. Empty means mcp.LatestProtocolVersion.
	// ENV: HELLO_MCP_PROTOCOL_VERSION
	ProtocolVersion string `env:"HELLO_MCP_PROTOCOL_VERSION"`
}

func loadConfig() (config, error) {
	cfg := config{LogLevel: "info", ToolTimeout: 10 * time.Second, RateBurst: 10}
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return config{}, fmt.Errorf("hello-mcp config: %w", err)
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = mcp.LatestProtocolVersion
	}
	if !mcp.IsSupportedProtocolVersion(cfg.ProtocolVersion) {
		return config{}, fmt.Errorf("hello-mcp config: unsupported protocol version %q", cfg.ProtocolVersion)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run wires the server and serves until stdin reaches EOF or ctx is done. It
// returns the process exit code.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	echoCfg, err := echo.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	lv := new(slog.LevelVar)
	if err := lv.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fmt.Fprintf(stderr, "hello-mcp config: log level: %v\n", err)
		return 1
	}
	log := slog.New(logctx.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lv})))

	srv := echo.New(echoCfg,
		echo.WithToolMiddleware(
			mcpservice.LoggingToolMiddleware(log),
			mcpservice.RateLimitToolMiddleware(cfg.RateLimit, cfg.RateBurst),
			mcpservice.TimeoutToolMiddleware(cfg.ToolTimeout),
		),
		echo.WithServerOptions(
			mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(lv)),
			mcpservice.WithPreferredProtocolVersion(cfg.ProtocolVersion),
		),
	)

	h := stdio.NewHandler(srv, stdio.WithIO(stdin, stdout), stdio.WithLogger(log))

	fmt.Fprintln(stderr, banner)
	log.DebugContext(ctx, "hello-mcp.start",
		slog.String("prefix", echoCfg.Prefix),
		slog.Int("max_length", echoCfg.MaxLength),
		slog.Duration("tool_timeout", cfg.ToolTimeout),
		slog.Float64("rate_limit", cfg.RateLimit),
	)

	if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.ErrorContext(ctx, "hello-mcp.serve.err", slog.String("err", err.Error()))
		return 1
	}
	return 0
}
