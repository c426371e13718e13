package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/hello-mcp-go/examples/echo"
	"github.com/ggoodman/hello-mcp-go/stdio"
	"github.com/ggoodman/hello-mcp-go/stdioclient"
)

const (
	helperEnv    = "HARNESS_HELPER_SERVER"
	helperCwdEnv = "HARNESS_HELPER_PRINT_CWD"
	helperBanner = "Hello MCP Server running on stdio"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runHelperServer()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runHelperServer serves the echo example over the process's stdio, the same
// way the hello-mcp binary does.
func runHelperServer() {
	cfg, err := echo.ConfigFromEnv()
	if err != nil {
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if os.Getenv(helperCwdEnv) == "1" {
		wd, _ := os.Getwd()
		os.Stderr.WriteString("cwd=" + wd + "\n")
	}
	os.Stderr.WriteString(helperBanner + "\n")
	h := stdio.NewHandler(echo.New(cfg), stdio.WithLogger(log))
	if err := h.Serve(context.Background()); err != nil {
		os.Exit(1)
	}
}

func helperConfig(t *testing.T, env ...string) Config {
	t.Helper()
	return Config{
		ServerPath: os.Args[0],
		ServerArgs: []string{"-test.run=^$"},
		Env:        append([]string{helperEnv + "=1"}, env...),
		Timeout:    5 * time.Second,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DefaultCasesPass(t *testing.T) {
	cfg := helperConfig(t)
	rep, err := Run(t.Context(), cfg, DefaultCases(cfg), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Results) != len(DefaultCases(cfg)) {
		t.Fatalf("expected %d results, got %d", len(DefaultCases(cfg)), len(rep.Results))
	}
	for _, res := range rep.Results {
		if !res.Passed {
			t.Errorf("%s: %s\nstderr:\n%s", res.Name, res.Message, res.Stderr)
		}
	}
	if !rep.OK() || rep.Passed() != len(rep.Results) {
		t.Fatalf("expected all cases to pass, got %d/%d", rep.Passed(), len(rep.Results))
	}
	if rep.RunID == "" {
		t.Fatalf("expected run id")
	}
}

func TestRun_CustomLimitAndPrefix(t *testing.T) {
	cfg := helperConfig(t, "ECHO_PREFIX=>>", "ECHO_MAX_LENGTH=10")
	cfg.Prefix = ">>"
	cfg.MaxLength = 10
	rep, err := Run(t.Context(), cfg, DefaultCases(cfg), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, res := range rep.Results {
		if !res.Passed {
			t.Errorf("%s: %s", res.Name, res.Message)
		}
	}
}

func TestRun_ReportsMismatchedPrefix(t *testing.T) {
	cfg := helperConfig(t, "ECHO_PREFIX=Echo:")
	rep, err := Run(t.Context(), cfg, DefaultCases(cfg), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.OK() {
		t.Fatalf("expected failures against a server with the wrong prefix")
	}
	var found bool
	for _, res := range rep.Results {
		if res.Name == "Echo output uses the configured prefix" {
			found = true
			if res.Passed {
				t.Fatalf("expected prefix case to fail")
			}
			if !strings.Contains(res.Message, "You said: ") {
				t.Fatalf("expected message to mention the expected prefix, got %q", res.Message)
			}
			if !strings.Contains(res.Stderr, "Hello MCP Server running on stdio") {
				t.Fatalf("expected stderr tail on failure, got %q", res.Stderr)
			}
		}
	}
	if !found {
		t.Fatalf("prefix case missing from report")
	}
}

func failingCase(name string) Case {
	return Case{Name: name, Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
		if err := c.Ping(ctx); err != nil {
			return "", err
		}
		return "", errors.New("forced failure")
	}}
}

func TestRun_StderrTailHonorsLimit(t *testing.T) {
	cfg := helperConfig(t)
	cfg.StderrLimit = 10
	rep, err := Run(t.Context(), cfg, []Case{failingCase("fails")}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := rep.Results[0]
	if res.Passed {
		t.Fatalf("expected failure")
	}
	if len(res.Stderr) != 10 || !strings.HasSuffix(helperBanner+"\n", res.Stderr) {
		t.Fatalf("expected the last 10 bytes of the banner, got %q", res.Stderr)
	}
}

func TestRun_ServerWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := helperConfig(t, helperCwdEnv+"=1")
	cfg.Dir = dir
	rep, err := Run(t.Context(), cfg, []Case{failingCase("fails")}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(rep.Results[0].Stderr, "cwd="+dir+"\n") {
		t.Fatalf("expected server to run in %s, stderr:\n%s", dir, rep.Results[0].Stderr)
	}
}

func TestRun_ArtifactMissing(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		path string
	}{
		{name: "absent", path: filepath.Join(dir, "nope")},
		{name: "directory", path: dir},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Run(t.Context(), Config{ServerPath: tc.path}, DefaultCases(Config{}), WithLogger(quietLogger()))
			if !errors.Is(err, ErrArtifactMissing) {
				t.Fatalf("expected ErrArtifactMissing, got %v", err)
			}
		})
	}
}

func TestRun_RecoversPanickingCase(t *testing.T) {
	cfg := helperConfig(t)
	cases := []Case{
		{Name: "panics", Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
			panic("boom")
		}},
		{Name: "pings", Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
			return "pong", c.Ping(ctx)
		}},
	}
	rep, err := Run(t.Context(), cfg, cases, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Results[0].Passed || !strings.Contains(rep.Results[0].Message, "panic: boom") {
		t.Fatalf("expected recovered panic, got %+v", rep.Results[0])
	}
	if !rep.Results[1].Passed {
		t.Fatalf("expected the following case to run, got %+v", rep.Results[1])
	}
	if rep.Passed() != 1 || rep.Failed() != 1 {
		t.Fatalf("unexpected counts %d/%d", rep.Passed(), rep.Failed())
	}
}

func TestRun_StopsOnCanceledContext(t *testing.T) {
	cfg := helperConfig(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rep, err := Run(ctx, cfg, DefaultCases(cfg), WithLogger(quietLogger()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rep.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(rep.Results))
	}
}

func TestWriteReport(t *testing.T) {
	rep := &Report{
		Server:   "./bin/hello-mcp",
		Duration: 1500 * time.Millisecond,
		Results: []Result{
			{Name: "first", Passed: true, Message: "fine"},
			{Name: "second", Message: "broken", Stderr: "line one\nline two\n"},
		},
	}

	t.Run("plain", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteReport(&buf, rep, false); err != nil {
			t.Fatalf("WriteReport: %v", err)
		}
		out := buf.String()
		for _, want := range []string{
			"✓ first",
			"  fine",
			"✗ second",
			"  broken",
			"  | line one",
			"  | line two",
			strings.Repeat("=", 50),
			"Results: 1 passed, 1 failed (1.5s)",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("missing %q in:\n%s", want, out)
			}
		}
		if strings.Contains(out, "\x1b[") {
			t.Errorf("unexpected ANSI escapes in plain output")
		}
	})

	t.Run("color", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteReport(&buf, rep, true); err != nil {
			t.Fatalf("WriteReport: %v", err)
		}
		if !strings.Contains(buf.String(), ansiGreen+"✓ first"+ansiReset) {
			t.Fatalf("expected green pass line, got %q", buf.String())
		}
		if !strings.Contains(buf.String(), ansiRed+"✗ second"+ansiReset) {
			t.Fatalf("expected red fail line, got %q", buf.String())
		}
	})
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteReport_PropagatesWriteError(t *testing.T) {
	if err := WriteReport(errWriter{}, &Report{}, false); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MCP_VERIFY_SERVER", "/opt/hello")
	t.Setenv("MCP_VERIFY_SERVER_ARGS", "-v;--stdio")
	t.Setenv("MCP_VERIFY_TIMEOUT", "250ms")
	t.Setenv("MCP_VERIFY_MAX_LENGTH", "42")
	t.Setenv("MCP_VERIFY_COLOR", "false")
	t.Setenv("MCP_VERIFY_STDERR_LIMIT", "512")
	t.Setenv("MCP_VERIFY_SERVER_DIR", "/srv")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.ServerPath != "/opt/hello" {
		t.Fatalf("server path %q", cfg.ServerPath)
	}
	if len(cfg.ServerArgs) != 2 || cfg.ServerArgs[1] != "--stdio" {
		t.Fatalf("server args %q", cfg.ServerArgs)
	}
	if cfg.Timeout != 250*time.Millisecond || cfg.MaxLength != 42 || cfg.Color {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Prefix != DefaultPrefix {
		t.Fatalf("expected default prefix, got %q", cfg.Prefix)
	}
	if cfg.StderrLimit != 512 || cfg.Dir != "/srv" {
		t.Fatalf("stderr limit %d, dir %q", cfg.StderrLimit, cfg.Dir)
	}
	if got := (Config{}).WithDefaults().StderrLimit; got != stdioclient.DefaultStderrLimit {
		t.Fatalf("default stderr limit %d", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_RunsWhenArtifactAppears(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "hello-mcp")

	cfg := helperConfig(t)
	cfg.ServerPath = target
	cases := []Case{{Name: "pings", Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
		return "pong", c.Ping(ctx)
	}}}

	ctx, cancel := context.WithCancel(t.Context())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, cfg, cases, &out, 20*time.Millisecond, WithLogger(quietLogger())) }()

	waitFor(t, &out, "waiting for")

	// Copy the test binary next to the target and rename it into place so the
	// file is never executed while open for writing.
	src, err := os.ReadFile(os.Args[0])
	if err != nil {
		t.Fatalf("read test binary: %v", err)
	}
	tmp := filepath.Join(dir, ".hello-mcp.tmp")
	if err := os.WriteFile(tmp, src, 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatalf("rename: %v", err)
	}

	waitFor(t, &out, "Results: 1 passed, 0 failed")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, out.String())
}
