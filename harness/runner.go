package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ggoodman/hello-mcp-go/stdioclient"
	"github.com/google/uuid"
)

// ErrArtifactMissing is returned by Run when the server executable does not
// exist or is not a regular file.
var ErrArtifactMissing = errors.New("server artifact not found")

// Result is the outcome of one Case.
type Result struct {
	Name     string
	Passed   bool
	Message  string
	Duration time.Duration
	// Stderr holds the tail of the server's stderr for failed cases.
	Stderr string
}

// Report summarizes a run.
type Report struct {
	RunID    string
	Server   string
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

// Passed counts passing results.
func (r *Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Failed counts failing results.
func (r *Report) Failed() int { return len(r.Results) - r.Passed() }

// OK reports whether every case passed.
func (r *Report) OK() bool { return r.Failed() == 0 }

// Option customizes Run.
type Option func(*runner)

type runner struct {
	log *slog.Logger
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Run executes cases sequentially, each against a freshly spawned server.
// The server is closed after every case whatever the outcome, including a
// panic inside the case, which is reported as a failure.
func Run(ctx context.Context, cfg Config, cases []Case, opts ...Option) (*Report, error) {
	r := &runner{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	cfg = cfg.WithDefaults()

	path, err := resolveArtifact(cfg.ServerPath)
	if err != nil {
		return nil, err
	}
	cfg.ServerPath = path

	rep := &Report{RunID: uuid.NewString(), Server: path, Started: time.Now()}
	log := r.log.With(slog.String("run_id", rep.RunID))
	log.InfoContext(ctx, "harness.run.start", slog.String("server", path), slog.Int("cases", len(cases)))

	for _, tc := range cases {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := runCase(ctx, cfg, tc, log)
		rep.Results = append(rep.Results, res)
		log.DebugContext(ctx, "harness.case.done", slog.String("case", res.Name), slog.Bool("passed", res.Passed), slog.Int64("dur_ms", res.Duration.Milliseconds()))
	}
	rep.Duration = time.Since(rep.Started)
	log.InfoContext(ctx, "harness.run.done", slog.Int("passed", rep.Passed()), slog.Int("failed", rep.Failed()), slog.Int64("dur_ms", rep.Duration.Milliseconds()))
	return rep, nil
}

func resolveArtifact(path string) (string, error) {
	if !strings.ContainsRune(path, os.PathSeparator) {
		if p, err := exec.LookPath(path); err == nil {
			path = p
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrArtifactMissing, path, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrArtifactMissing, path)
	}
	return path, nil
}

func runCase(ctx context.Context, cfg Config, tc Case, log *slog.Logger) (res Result) {
	res.Name = tc.Name
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	client, err := stdioclient.Spawn(ctx, cfg.ServerPath, cfg.ServerArgs,
		stdioclient.WithEnv(cfg.Env...),
		stdioclient.WithTimeout(cfg.Timeout),
		stdioclient.WithBacklog(cfg.Backlog),
		stdioclient.WithStderrLimit(cfg.StderrLimit),
		stdioclient.WithDir(cfg.Dir),
		stdioclient.WithLogger(log.With(slog.String("case", tc.Name))),
	)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	defer func() {
		if p := recover(); p != nil {
			res.Passed = false
			res.Message = fmt.Sprintf("panic: %v", p)
		}
		if err := client.Close(); err != nil {
			log.WarnContext(ctx, "harness.case.close_err", slog.String("case", tc.Name), slog.String("err", err.Error()))
		}
		if !res.Passed {
			res.Stderr = client.Stderr()
		}
	}()

	msg, err := tc.Run(ctx, client)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Passed = true
	res.Message = msg
	return res
}
