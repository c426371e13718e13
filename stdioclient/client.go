package stdioclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/hello-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/hello-mcp-go/mcp"
)

// Client speaks line-delimited JSON-RPC to a peer over a reader/writer pair,
// usually the stdio of a child process started with Spawn.
//
// A Client must be closed on every exit path of its owner; Close is
// idempotent and reaps the child process when there is one.
type Client struct {
	log   *slog.Logger
	opts  options
	demux *Demux

	wmu sync.Mutex
	w   io.Writer

	nextID atomic.Int64

	cmd        *exec.Cmd
	stdin      io.Closer
	pumpDone   chan struct{}
	stderrDone chan struct{}
	stderr     *tailBuffer

	closeOnce sync.Once
	closeErr  error
}

// New wraps an existing stream pair. Responses are read from r; requests are
// written to w. When r reaches EOF every pending call fails with ErrClosed.
func New(r io.Reader, w io.Writer, opts ...Option) *Client {
	o := newOptions(opts)
	c := &Client{
		log:      o.log,
		opts:     o,
		demux:    NewDemux(opts...),
		w:        w,
		pumpDone: make(chan struct{}),
		stderr:   &tailBuffer{limit: o.stderrLimit},
	}
	if wc, ok := w.(io.Closer); ok {
		c.stdin = wc
	}
	go c.pump(r)
	return c
}

// Spawn starts path with args and connects to its stdin and stdout. The
// child's stderr is logged at debug level and the most recent output is
// retained for Stderr; it never reaches the response matcher.
func Spawn(ctx context.Context, path string, args []string, opts ...Option) (*Client, error) {
	o := newOptions(opts)

	cmd := exec.CommandContext(ctx, path, args...)
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}
	cmd.Dir = o.dir
	cmd.WaitDelay = o.closeTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	c := New(stdout, stdin, opts...)
	c.cmd = cmd
	c.stderrDone = make(chan struct{})
	go c.drainStderr(stderr)

	c.log.DebugContext(ctx, "client.spawn", slog.String("path", path), slog.Int("pid", cmd.Process.Pid))
	return c, nil
}

func (c *Client) pump(r io.Reader) {
	defer close(c.pumpDone)
	_, err := io.Copy(c.demux, r)
	c.demux.Close(err)
}

func (c *Client) drainStderr(r io.Reader) {
	defer close(c.stderrDone)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), c.opts.maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		c.log.Debug("client.stderr", slog.String("line", line))
		c.stderr.WriteLine(line)
	}
	// Keep the pipe drained so the child never blocks on a full buffer.
	_, _ = io.Copy(io.Discard, r)
}

// Demux exposes the response matcher, mainly for instrumentation.
func (c *Client) Demux() *Demux { return c.demux }

// Stderr returns the most recent stderr output of a spawned child.
func (c *Client) Stderr() string { return c.stderr.String() }

// ProcessState returns the exit state of a spawned child once Close has
// reaped it, and nil otherwise.
func (c *Client) ProcessState() *os.ProcessState {
	if c.cmd == nil {
		return nil
	}
	return c.cmd.ProcessState
}

type lockedWriter struct{ c *Client }

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.c.wmu.Lock()
	defer lw.c.wmu.Unlock()
	return lw.c.w.Write(p)
}

// Send writes req, which must carry a caller-assigned ID, and waits for the
// matching response. A JSON-RPC error response is returned as a response, not
// as an error.
func (c *Client) Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return c.demux.RoundTrip(ctx, lockedWriter{c}, req)
}

// Call sends method with params using the next integer request ID.
func (c *Client) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := jsonrpc.NewRequestID(c.nextID.Add(1))
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

// Notify writes a notification. No response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.WriteLine(b)
}

// WriteLine writes raw bytes followed by a newline to the peer.
func (c *Client) WriteLine(line []byte) error {
	if _, err := (lockedWriter{c}).Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Initialize performs the initialize handshake and sends
// notifications/initialized.
func (c *Client) Initialize(ctx context.Context, info mcp.ImplementationInfo) (*mcp.InitializeResult, error) {
	resp, err := c.Call(ctx, string(mcp.InitializeMethod), mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      info,
	})
	if err != nil {
		return nil, err
	}
	var res mcp.InitializeResult
	if err := resp.DecodeResult(&res); err != nil {
		return nil, err
	}
	if err := c.Notify(ctx, string(mcp.InitializedNotificationMethod), nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ping checks that the peer is responsive.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, string(mcp.PingMethod), nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// ListTools fetches the first page of tools.
func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	resp, err := c.Call(ctx, string(mcp.ToolsListMethod), nil)
	if err != nil {
		return nil, err
	}
	var res mcp.ListToolsResult
	if err := resp.DecodeResult(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CallTool invokes a tool. A JSON-RPC error response is returned as a
// *jsonrpc.Error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	resp, err := c.Call(ctx, string(mcp.ToolsCallMethod), mcp.CallToolRequest{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var res mcp.CallToolResult
	if err := resp.DecodeResult(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close releases the peer: it closes the request stream, kills a spawned
// child, waits (bounded) for its output to drain, reaps it and fails any
// pending calls. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Client) close() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.log.Debug("client.kill.err", slog.String("err", err.Error()))
		}
	}

	timer := time.NewTimer(c.opts.closeTimeout)
	defer timer.Stop()
	for _, done := range []chan struct{}{c.pumpDone, c.stderrDone} {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-timer.C:
			c.log.Warn("client.close.drain_timeout", slog.Int64("timeout_ms", c.opts.closeTimeout.Milliseconds()))
		}
	}

	var err error
	if c.cmd != nil {
		werr := c.cmd.Wait()
		var exitErr *exec.ExitError
		if werr != nil && !errors.As(werr, &exitErr) {
			err = fmt.Errorf("wait: %w", werr)
		}
		c.log.Debug("client.close", slog.Int("pid", c.cmd.Process.Pid), slog.String("state", c.cmd.ProcessState.String()))
	}
	c.demux.Close(ErrClientClosed)
	return err
}

// ErrClientClosed is the cause attached to calls failed by Close.
var ErrClientClosed = errors.New("client closed")

// tailBuffer keeps the last limit bytes of line-oriented output.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit <= 0 {
		return
	}
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
