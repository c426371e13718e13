package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/ggoodman/hello-mcp-go/mcp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const helperEnv = "HELLO_MCP_TEST_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(run(context.Background(), os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func TestRun_ServesUntilEOF(t *testing.T) {
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"Hello MCP!","uppercase":true}}}`,
	}, "\n") + "\n"

	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), strings.NewReader(in), &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr:\n%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), banner) {
		t.Fatalf("expected banner on stderr, got %q", stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %q", len(lines), stdout.String())
	}
	var list struct {
		Result mcp.ListToolsResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Result.Tools) != 1 || list.Result.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", list.Result.Tools)
	}
	var call struct {
		Result mcp.CallToolResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if got := call.Result.FirstText(); got != "You said: HELLO MCP!" {
		t.Fatalf("unexpected echo text %q", got)
	}
}

func TestRun_EchoConfigFromEnv(t *testing.T) {
	t.Setenv("ECHO_PREFIX", "Echo:")
	in := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}` + "\n"

	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), strings.NewReader(in), &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), `"text":"Echo:hi"`) {
		t.Fatalf("expected custom prefix, got %q", stdout.String())
	}
}

func TestRun_ProtocolVersionFromEnv(t *testing.T) {
	t.Setenv("HELLO_MCP_PROTOCOL_VERSION", "2024-11-05")
	in := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01","clientInfo":{"name":"c","version":"1"}}}` + "\n"

	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), strings.NewReader(in), &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d; stderr:\n%s", code, stderr.String())
	}
	var resp struct {
		Result mcp.InitializeResult `json:"result"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.ProtocolVersion != "2024-11-05" {
		t.Fatalf("expected configured fallback version, got %q", resp.Result.ProtocolVersion)
	}
}

func TestRun_BadConfigExitsNonZero(t *testing.T) {
	cases := []struct {
		name, key, value string
	}{
		{name: "tool timeout", key: "HELLO_MCP_TOOL_TIMEOUT", value: "soon"},
		{name: "log level", key: "HELLO_MCP_LOG_LEVEL", value: "chatty"},
		{name: "echo max length", key: "ECHO_MAX_LENGTH", value: "lots"},
		{name: "rate limit", key: "HELLO_MCP_RATE_LIMIT", value: "fast"},
		{name: "protocol version", key: "HELLO_MCP_PROTOCOL_VERSION", value: "1999-01-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			var stdout, stderr bytes.Buffer
			if code := run(t.Context(), strings.NewReader(""), &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if stdout.Len() != 0 {
				t.Fatalf("expected nothing on stdout, got %q", stdout.String())
			}
			if strings.Contains(stderr.String(), banner) {
				t.Fatalf("banner printed despite config error")
			}
		})
	}
}

func TestRun_CanceledContextExitsZero(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	var stdout, stderr bytes.Buffer
	if code := run(ctx, pr, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0 on cancellation, got %d", code)
	}
}

// TestInterop_GoSDKClient drives the server binary with the official Go SDK
// client over its command transport.
func TestInterop_GoSDKClient(t *testing.T) {
	ctx := t.Context()

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), helperEnv+"=1")

	client := sdk.NewClient(&sdk.Implementation{Name: "interop", Version: "0.0.0"}, &sdk.ClientOptions{})
	cs, err := client.Connect(ctx, &sdk.CommandTransport{Command: cmd}, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "Hello MCP!"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("unexpected content: %+v", res.Content)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	if text.Text != "You said: Hello MCP!" {
		t.Fatalf("unexpected echo text %q", text.Text)
	}

	if _, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": strings.Repeat("a", 101)},
	}); err == nil {
		t.Fatalf("expected an error for an over-long message")
	}
}
