package stdioclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/hello-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/mcpservice"
	"github.com/ggoodman/hello-mcp-go/sessions"
	"github.com/ggoodman/hello-mcp-go/stdio"
)

const helperEnv = "STDIOCLIENT_HELPER_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runHelperServer(os.Stdin, os.Stdout)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type textArgs struct {
	Text string `json:"text"`
}

func helperServer() mcpservice.ServerCapabilities {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("shout", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[textArgs]) error {
			return w.AppendText(strings.ToUpper(r.Args().Text))
		}),
		mcpservice.NewTool("sleep", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
			time.Sleep(time.Minute)
			return nil
		}),
		mcpservice.NewTool("exit", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
			os.Exit(3)
			return nil
		}),
	)
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "helper", Version: "0.0.1"}),
		mcpservice.WithToolsCapability(tools),
	)
}

// runHelperServer is the child side of the spawn tests. It writes a banner to
// both streams so that clients have to skip non-protocol output.
func runHelperServer(r io.Reader, w io.Writer) {
	fmt.Fprintln(os.Stderr, "helper server running on stdio")
	fmt.Fprintln(w, "helper diagnostic on stdout")
	h := stdio.NewHandler(helperServer(),
		stdio.WithIO(r, w),
		stdio.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
		stdio.WithUserProvider(stdio.StaticUserProvider("helper")),
	)
	_ = h.Serve(context.Background())
}

func spawnHelper(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithEnv(helperEnv + "=1")}, opts...)
	c, err := Spawn(context.Background(), os.Args[0], []string{"-test.run=^$"}, opts...)
	if err != nil {
		t.Fatalf("spawn helper: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SpawnRoundTrip(t *testing.T) {
	c := spawnHelper(t)
	ctx := context.Background()

	initRes, err := c.Initialize(ctx, mcp.ImplementationInfo{Name: "test", Version: "0.0.1"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if initRes.ServerInfo.Name != "helper" || initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("unexpected initialize result: %+v", initRes)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	list, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(list.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %+v", list.Tools)
	}

	res, err := c.CallTool(ctx, "shout", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.FirstText() != "HELLO" {
		t.Fatalf("unexpected text %q", res.FirstText())
	}

	_, err = c.CallTool(ctx, "nope", nil)
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if !strings.Contains(rpcErr.Message, "nope") {
		t.Fatalf("expected tool name in message, got %q", rpcErr.Message)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.ProcessState() == nil {
		t.Fatalf("expected child to be reaped")
	}
	if !strings.Contains(c.Stderr(), "helper server running on stdio") {
		t.Fatalf("expected banner in stderr, got %q", c.Stderr())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestClient_SendCallerAssignedID(t *testing.T) {
	c := spawnHelper(t)
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID("custom-1"), string(mcp.PingMethod), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.ID.String() != "custom-1" {
		t.Fatalf("unexpected id %s", resp.ID)
	}
}

func TestClient_TimeoutThenCloseReapsChild(t *testing.T) {
	c := spawnHelper(t, WithTimeout(100*time.Millisecond))

	_, err := c.CallTool(context.Background(), "sleep", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if n := c.Demux().Pending(); n != 0 {
		t.Fatalf("expected no pending waiters, got %d", n)
	}

	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("close took too long: %s", d)
	}
	if c.ProcessState() == nil {
		t.Fatalf("expected reaped child")
	}
}

func TestClient_CloseFailsPendingCall(t *testing.T) {
	c := spawnHelper(t)
	done := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "sleep", nil)
		done <- err
	}()
	deadline := time.Now().Add(time.Second)
	for c.Demux().Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call not released by Close")
	}
}

func TestClient_ChildExitFailsFast(t *testing.T) {
	c := spawnHelper(t)
	start := time.Now()
	_, err := c.CallTool(context.Background(), "exit", nil)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if time.Since(start) >= DefaultTimeout {
		t.Fatalf("expected failure before the response timeout")
	}
}

func TestClient_SpawnMissingBinary(t *testing.T) {
	_, err := Spawn(context.Background(), "/nonexistent/hello-mcp", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestClient_NewOverPipes(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	served := make(chan struct{})
	go func() {
		defer close(served)
		h := stdio.NewHandler(helperServer(), stdio.WithIO(inR, outW), stdio.WithUserProvider(stdio.StaticUserProvider("pipe")))
		_ = h.Serve(context.Background())
		_ = outW.Close()
	}()

	c := New(outR, inW)
	res, err := c.CallTool(context.Background(), "shout", map[string]any{"text": "pipes"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.FirstText() != "PIPES" {
		t.Fatalf("unexpected text %q", res.FirstText())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatalf("server did not observe EOF")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
