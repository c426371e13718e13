package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/hello-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/stdioclient"
)

// Case is one conformance check. Run receives a client connected to a fresh
// server process and returns a short success message or an error describing
// the failure.
type Case struct {
	Name string
	Run  func(ctx context.Context, c *stdioclient.Client) (string, error)
}

const sampleMessage = "Hello MCP!"

// DefaultCases returns the echo server conformance suite for cfg.
func DefaultCases(cfg Config) []Case {
	cfg = cfg.WithDefaults()
	limit := cfg.MaxLength

	return []Case{
		{
			Name: "Server starts and responds to tools/list",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				resp, err := send(ctx, c, 1, string(mcp.ToolsListMethod), map[string]any{})
				if err != nil {
					return "", err
				}
				var res mcp.ListToolsResult
				if err := resp.DecodeResult(&res); err != nil {
					return "", fmt.Errorf("expected tools list in response: %w", err)
				}
				for _, t := range res.Tools {
					if t.Name == "echo" {
						return "Server responds with echo tool", nil
					}
				}
				return "", errors.New(`expected "echo" tool to be listed`)
			},
		},
		{
			Name: "Echo output uses the configured prefix",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				text, err := echoText(ctx, c, 2, map[string]any{"message": sampleMessage})
				if err != nil {
					return "", err
				}
				if !strings.HasPrefix(text, cfg.Prefix) {
					return "", fmt.Errorf("expected format %q, got %q", cfg.Prefix+"...", text)
				}
				return "Echo format is correct", nil
			},
		},
		{
			Name: fmt.Sprintf("Message length validation (rejects >%d chars)", limit),
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				resp, err := callTool(ctx, c, 3, "echo", map[string]any{"message": strings.Repeat("a", limit+1)})
				if err != nil {
					return "", err
				}
				if resp.Error == nil {
					return "", fmt.Errorf("expected error for message longer than %d characters", limit)
				}
				if !strings.Contains(resp.Error.Message, strconv.Itoa(limit)) {
					return "", fmt.Errorf("error message should mention the %d character limit, got %q", limit, resp.Error.Message)
				}
				return "Length validation works correctly", nil
			},
		},
		{
			Name: fmt.Sprintf("Message length validation (accepts <=%d chars)", limit),
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				if _, err := echoText(ctx, c, 4, map[string]any{"message": strings.Repeat("a", limit)}); err != nil {
					return "", fmt.Errorf("expected success for %d char message: %w", limit, err)
				}
				return fmt.Sprintf("Accepts messages with exactly %d characters", limit), nil
			},
		},
		{
			Name: "Uppercase parameter (false)",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				return expectText(ctx, c, 5, map[string]any{"message": sampleMessage, "uppercase": false}, cfg.Prefix+sampleMessage, "Lowercase mode works")
			},
		},
		{
			Name: "Uppercase parameter (true)",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				return expectText(ctx, c, 6, map[string]any{"message": sampleMessage, "uppercase": true}, cfg.Prefix+strings.ToUpper(sampleMessage), "Uppercase mode works")
			},
		},
		{
			Name: "Uppercase parameter (optional)",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				if _, err := echoText(ctx, c, 7, map[string]any{"message": sampleMessage}); err != nil {
					return "", fmt.Errorf("expected success when uppercase is omitted: %w", err)
				}
				return "Uppercase parameter is optional", nil
			},
		},
		{
			Name: "Initialize handshake",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				res, err := c.Initialize(ctx, mcp.ImplementationInfo{Name: "mcp-verify", Version: "1.0.0"})
				if err != nil {
					return "", err
				}
				if !mcp.IsSupportedProtocolVersion(res.ProtocolVersion) {
					return "", fmt.Errorf("unsupported protocol version %q", res.ProtocolVersion)
				}
				if res.Capabilities.Tools == nil {
					return "", errors.New("expected tools capability")
				}
				if res.ServerInfo.Name == "" {
					return "", errors.New("expected server name")
				}
				return fmt.Sprintf("Negotiated %s with %s %s", res.ProtocolVersion, res.ServerInfo.Name, res.ServerInfo.Version), nil
			},
		},
		{
			Name: "Ping",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				if err := c.Ping(ctx); err != nil {
					return "", err
				}
				return "Server answers ping", nil
			},
		},
		{
			Name: "Unknown tool is rejected",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				const name = "does_not_exist"
				resp, err := callTool(ctx, c, 10, name, map[string]any{"message": sampleMessage})
				if err != nil {
					return "", err
				}
				if resp.Error == nil {
					return "", errors.New("expected error for unknown tool")
				}
				if !strings.Contains(resp.Error.Message, name) {
					return "", fmt.Errorf("error should name the tool, got %q", resp.Error.Message)
				}
				return "Unknown tools produce an error", nil
			},
		},
		{
			Name: "Missing message parameter is rejected",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				resp, err := callTool(ctx, c, 11, "echo", map[string]any{})
				if err != nil {
					return "", err
				}
				if resp.Error == nil {
					return "", errors.New("expected error for missing message")
				}
				if !strings.Contains(strings.ToLower(resp.Error.Message), "message") {
					return "", fmt.Errorf("error should name the parameter, got %q", resp.Error.Message)
				}
				return "Missing parameter produces an error", nil
			},
		},
		{
			Name: "Malformed input is ignored",
			Run: func(ctx context.Context, c *stdioclient.Client) (string, error) {
				if err := c.WriteLine([]byte("this is not json-rpc")); err != nil {
					return "", err
				}
				if _, err := echoText(ctx, c, 12, map[string]any{"message": sampleMessage}); err != nil {
					return "", fmt.Errorf("server stopped responding after malformed input: %w", err)
				}
				return "Server keeps serving after malformed input", nil
			},
		},
	}
}

func send(ctx context.Context, c *stdioclient.Client, id int, method string, params any) (*jsonrpc.Response, error) {
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

func callTool(ctx context.Context, c *stdioclient.Client, id int, name string, args map[string]any) (*jsonrpc.Response, error) {
	return send(ctx, c, id, string(mcp.ToolsCallMethod), mcp.CallToolRequest{Name: name, Arguments: args})
}

func echoText(ctx context.Context, c *stdioclient.Client, id int, args map[string]any) (string, error) {
	resp, err := callTool(ctx, c, id, "echo", args)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("got error: %s", resp.Error.Message)
	}
	var res mcp.CallToolResult
	if err := resp.DecodeResult(&res); err != nil {
		return "", err
	}
	if len(res.Content) == 0 {
		return "", errors.New("expected content in response")
	}
	text := res.FirstText()
	if text == "" {
		return "", errors.New("expected text in response content")
	}
	return text, nil
}

func expectText(ctx context.Context, c *stdioclient.Client, id int, args map[string]any, want, ok string) (string, error) {
	text, err := echoText(ctx, c, id, args)
	if err != nil {
		return "", fmt.Errorf("expected success: %w", err)
	}
	if text != want {
		return "", fmt.Errorf("expected %q, got %q", want, text)
	}
	return ok, nil
}
