// Command mcp-verify runs the hello-mcp conformance suite against a server
// executable and exits non-zero when any check fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/hello-mcp-go/harness"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// run parses args over the environment configuration, executes the suite and
// returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := harness.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fs := flag.NewFlagSet("mcp-verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		serverArgs stringList
		serverEnv  stringList
		noColor    bool
		watch      bool
		verbose    bool
	)
	fs.StringVar(&cfg.ServerPath, "server", cfg.ServerPath, "server executable under test")
	fs.Var(&serverArgs, "arg", "argument passed to the server (repeatable)")
	fs.Var(&serverEnv, "env", "KEY=VALUE added to the server environment (repeatable)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	fs.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "prefix the echo tool is expected to use")
	fs.IntVar(&cfg.MaxLength, "max-length", cfg.MaxLength, "expected maximum message length")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "unmatched responses retained per client (0 drops them)")
	fs.IntVar(&cfg.StderrLimit, "stderr-limit", cfg.StderrLimit, "bytes of server stderr kept for failed checks")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "server working directory")
	fs.BoolVar(&noColor, "no-color", !cfg.Color, "disable ANSI colors")
	fs.BoolVar(&watch, "watch", false, "re-run whenever the server executable changes")
	debounce := fs.Duration("debounce", harness.DefaultWatchDebounce, "quiet period before a watch re-run")
	fs.BoolVar(&verbose, "v", false, "log client and server diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if len(serverArgs) > 0 {
		cfg.ServerArgs = serverArgs
	}
	cfg.Env = append(cfg.Env, serverEnv...)
	cfg.Color = !noColor
	cfg = cfg.WithDefaults()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	cases := harness.DefaultCases(cfg)

	if watch {
		err := harness.Watch(ctx, cfg, cases, stdout, *debounce, harness.WithLogger(log))
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	rep, err := harness.Run(ctx, cfg, cases, harness.WithLogger(log))
	if errors.Is(err, harness.ErrArtifactMissing) {
		fmt.Fprintf(stderr, "%v\nBuild the server first (go build -o %s ./cmd/hello-mcp).\n", err, cfg.ServerPath)
		return 1
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := harness.WriteReport(stdout, rep, cfg.Color); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if !rep.OK() {
		return 1
	}
	return 0
}
