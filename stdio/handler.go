package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/hello-mcp-go/internal/jsonrpc"
	"github.com/ggoodman/hello-mcp-go/internal/logctx"
	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/mcpservice"
	"github.com/ggoodman/hello-mcp-go/sessions"
	"github.com/google/uuid"
)

// DefaultMaxLineSize bounds a single inbound JSON-RPC line.
const DefaultMaxLineSize = 4 << 20

// ErrServeCalled is returned when Serve is invoked more than once.
var ErrServeCalled = errors.New("stdio: Serve already called")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout. It identifies the peer using a UserProvider, which
// defaults to the current OS user.
//
// The handler is transport-only; it delegates all MCP semantics to the provided
// mcpservice.ServerCapabilities.
type Handler struct {
	srv mcpservice.ServerCapabilities

	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider
	maxLineSize  int

	started atomic.Bool
	out     *writeMux
	session *sessions.StaticSession
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
		maxLineSize:  DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.out = &writeMux{w: h.w}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Lines are processed
// one at a time in arrival order; each request produces exactly one response
// line and notifications produce none. Lines that are not valid JSON-RPC are
// logged and skipped.
//
// Serve returns nil on EOF, ctx.Err() on cancellation and the read error
// otherwise (including bufio.ErrTooLong for oversized lines).
func (h *Handler) Serve(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrServeCalled
	}

	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		h.l.WarnContext(ctx, "stdio.user.err", slog.String("err", err.Error()))
		userID = "unknown"
	}
	h.session = sessions.NewStaticSession(uuid.NewString(), userID)
	h.l.DebugContext(ctx, "stdio.serve.start", slog.String("session_id", h.session.SessionID()), slog.String("user_id", userID))

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), h.maxLineSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			h.handleLine(ctx, line)
		case err := <-readErr:
			if err != nil {
				h.l.ErrorContext(ctx, "stdio.read.err", slog.String("err", err.Error()))
				return fmt.Errorf("stdio: read: %w", err)
			}
			h.l.DebugContext(ctx, "stdio.serve.eof")
			return nil
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.l.WarnContext(ctx, "stdio.read.invalid", slog.String("err", err.Error()), slog.Int("len", len(line)))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       h.session.SessionID(),
		UserID:          h.session.UserID(),
		ProtocolVersion: h.session.ProtocolVersion(),
	})

	req := msg.AsRequest()
	switch {
	case req == nil:
		// This transport never issues client-bound requests.
		h.l.DebugContext(ctx, "stdio.response.ignored", slog.String("id", msg.ID.String()))
	case req.IsNotification():
		ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, Type: "notification"})
		h.handleNotification(ctx, req)
	default:
		ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})
		start := time.Now()
		res := h.handleRequest(ctx, req)
		if res.Error != nil {
			h.l.InfoContext(ctx, "stdio.handle_request.err", slog.Int("code", int(res.Error.Code)), slog.String("err", res.Error.Message), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		} else {
			h.l.DebugContext(ctx, "stdio.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		}
		if err := h.out.writeJSONRPC(res); err != nil {
			h.l.ErrorContext(ctx, "stdio.write.err", slog.String("err", err.Error()))
		}
	}
}

func (h *Handler) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		h.l.DebugContext(ctx, "stdio.initialized")
	case mcp.CancelledNotificationMethod:
		// Requests are handled synchronously, so by the time a cancellation
		// is read its target has already been answered.
		var p mcp.CancelledNotification
		_ = json.Unmarshal(req.Params, &p)
		h.l.DebugContext(ctx, "stdio.cancelled.ignored", slog.Any("request_id", p.RequestID))
	default:
		h.l.DebugContext(ctx, "stdio.notification.ignored")
	}
}

func (h *Handler) handleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return h.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return resultResponse(req.ID, mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return h.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return h.handleToolsCall(ctx, req)
	case mcp.LoggingSetLevelMethod:
		return h.handleSetLevel(ctx, req)
	default:
		return methodNotFound(req)
	}
}

func (h *Handler) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var p mcp.InitializeRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return invalidParams(req.ID, err.Error(), nil)
	}

	version := p.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
		if pv, ok, err := h.srv.GetPreferredProtocolVersion(ctx); err == nil && ok {
			version = pv
		}
	}
	h.session.Negotiate(version, p.ClientInfo)

	info, err := h.srv.GetServerInfo(ctx, h.session)
	if err != nil {
		return internalError(req.ID, err)
	}
	res := mcp.InitializeResult{ProtocolVersion: version, ServerInfo: info}

	if _, ok, err := h.srv.GetToolsCapability(ctx, h.session); err != nil {
		return internalError(req.ID, err)
	} else if ok {
		res.Capabilities.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if _, ok, err := h.srv.GetLoggingCapability(ctx, h.session); err != nil {
		return internalError(req.ID, err)
	} else if ok {
		res.Capabilities.Logging = &struct{}{}
	}
	if instr, ok, err := h.srv.GetInstructions(ctx, h.session); err == nil && ok {
		res.Instructions = instr
	}

	h.l.InfoContext(ctx, "stdio.initialize",
		slog.String("client", p.ClientInfo.Name),
		slog.String("client_version", p.ClientInfo.Version),
		slog.String("protocol_version", version),
	)
	return resultResponse(req.ID, res)
}

func (h *Handler) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	tools, ok, err := h.srv.GetToolsCapability(ctx, h.session)
	if err != nil {
		return internalError(req.ID, err)
	}
	if !ok {
		return methodNotFound(req)
	}
	var p mcp.ListToolsRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return invalidParams(req.ID, err.Error(), nil)
	}
	var cursor *string
	if p.Cursor != "" {
		cursor = &p.Cursor
	}
	page, err := tools.ListTools(ctx, h.session, cursor)
	if err != nil {
		return internalError(req.ID, err)
	}
	res := mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return resultResponse(req.ID, res)
}

func (h *Handler) handleToolsCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	tools, ok, err := h.srv.GetToolsCapability(ctx, h.session)
	if err != nil {
		return internalError(req.ID, err)
	}
	if !ok {
		return methodNotFound(req)
	}
	var p mcp.CallToolRequestReceived
	if err := decodeParams(req.Params, &p); err != nil {
		return invalidParams(req.ID, err.Error(), nil)
	}
	if p.Name == "" {
		return invalidParams(req.ID, "missing required parameter: name", map[string]any{"parameter": "name"})
	}

	res, err := tools.CallTool(ctx, h.session, &p)
	if err != nil {
		return toolCallError(req.ID, err)
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []mcp.ContentBlock{}
	}
	return resultResponse(req.ID, res)
}

func (h *Handler) handleSetLevel(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	lc, ok, err := h.srv.GetLoggingCapability(ctx, h.session)
	if err != nil {
		return internalError(req.ID, err)
	}
	if !ok {
		return methodNotFound(req)
	}
	var p mcp.SetLevelRequest
	if err := decodeParams(req.Params, &p); err != nil {
		return invalidParams(req.ID, err.Error(), nil)
	}
	if err := lc.SetLevel(ctx, h.session, p.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return invalidParams(req.ID, fmt.Sprintf("invalid logging level: %q", p.Level), map[string]any{"parameter": "level"})
		}
		return internalError(req.ID, err)
	}
	return resultResponse(req.ID, mcp.EmptyResult{})
}

// toolCallError maps tool failures onto JSON-RPC errors. Argument problems
// and unknown tools are the caller's fault (-32602); anything else is an
// internal error (-32603).
func toolCallError(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var nf *mcpservice.ToolNotFoundError
	if errors.As(err, &nf) {
		return invalidParams(id, nf.Error(), map[string]any{"tool": nf.Name})
	}
	var pe *mcpservice.ParamError
	if errors.As(err, &pe) {
		var data any
		if pe.Param != "" {
			data = map[string]any{"parameter": pe.Param}
		}
		return invalidParams(id, pe.Message, data)
	}
	return internalError(id, err)
}

func decodeParams(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func resultResponse(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return internalError(id, err)
	}
	return res
}

func methodNotFound(req *jsonrpc.Request) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil)
}

func invalidParams(id *jsonrpc.RequestID, msg string, data any) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, msg, data)
}

func internalError(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
}

// writeMux serializes newline-delimited JSON-RPC writes.
type writeMux struct {
	mu sync.Mutex
	w  io.Writer
}

func (m *writeMux) writeJSONRPC(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	b = append(b, '\n')
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err = m.w.Write(b)
	return err
}
