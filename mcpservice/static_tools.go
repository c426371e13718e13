package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/ggoodman/hello-mcp-go/internal/logctx"
	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/sessions"
	"github.com/invopop/jsonschema"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input and request metadata.
// It is generic over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	args A
}

func (r *ToolRequest[A]) Name() string { return r.name }
func (r *ToolRequest[A]) Args() A      { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
	schemaEdits               []func(*mcp.ToolInputSchema)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// WithToolInputSchema registers a function that adjusts the reflected input
// schema before it is published. Use it for constraints that depend on
// runtime configuration and so cannot be expressed in struct tags.
func WithToolInputSchema(edit func(*mcp.ToolInputSchema)) ToolOption {
	return func(c *toolConfig) { c.schemaEdits = append(c.schemaEdits, edit) }
}

// NewTool constructs a StaticTool from a typed args struct A. It:
//   - Reflects a JSON Schema from A using invopop/jsonschema
//   - Down-converts it to MCP's simplified ToolInputSchema
//   - Rejects calls missing a required property with a MissingParamError
//   - Decodes arguments into A (rejecting unknown fields by default)
//   - Hands fn a ToolResponseWriter to compose the result
//
// Errors returned by fn are passed through unchanged so that transports can
// map *ParamError and friends onto protocol error codes.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)
	for _, edit := range cfg.schemaEdits {
		edit(&input)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: input,
	}
	required := append([]string(nil), input.Required...)

	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		a, err := decodeToolArguments[A](req.Arguments, required, cfg.allowAdditionalProperties)
		if err != nil {
			return nil, err
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// decodeToolArguments checks required properties and decodes raw into A.
// A JSON null counts as absent.
func decodeToolArguments[A any](raw json.RawMessage, required []string, allowAdditional bool) (A, error) {
	var a A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if len(required) > 0 {
			return a, MissingParamError(required[0])
		}
		return a, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return a, &ParamError{Message: "invalid arguments: expected a JSON object"}
	}
	for _, name := range required {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return a, MissingParamError(name)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, argumentError(err)
	}
	return a, nil
}

// argumentError names the offending parameter of a decode failure when the
// decoder reports one.
func argumentError(err error) error {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) && ute.Field != "" {
		return InvalidParamError(ute.Field, "invalid parameter %s: expected %s", ute.Field, jsonTypeName(ute.Type))
	}
	if name, ok := strings.CutPrefix(err.Error(), `json: unknown field "`); ok {
		name = strings.TrimSuffix(name, `"`)
		return InvalidParamError(name, "unexpected parameter: %s", name)
	}
	return &ParamError{Message: "invalid arguments: expected a JSON object"}
}

func jsonTypeName(t reflect.Type) string {
	if t == nil {
		return "a different type"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	var s *jsonschema.Schema
	// The reflector keys definitions by type name, so anonymous types such as
	// struct{} fall through to the empty object schema.
	if t := reflect.TypeFor[A](); t.Kind() == reflect.Struct && t.Name() != "" {
		r := &jsonschema.Reflector{
			DoNotReference:            true, // inline defs
			ExpandedStruct:            true, // put struct at root
			AllowAdditionalProperties: allowAdditional,
		}
		s = r.Reflect(new(A))
	}

	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.MinLength != nil {
		n := int(*s.MinLength)
		p.MinLength = &n
	}
	if s.MaxLength != nil {
		n := int(*s.MaxLength)
		p.MaxLength = &n
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tool descriptors and handlers.
// It is intended for simple servers that want to advertise a collection of
// tools and have the server dispatch calls automatically.
type ToolsContainer struct {
	mu         sync.RWMutex
	tools      []mcp.Tool             // descriptors for listing
	handlers   map[string]ToolHandler // name -> handler
	middleware []ToolMiddleware

	pageSize int // pagination size for ListTools (default 50)
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// NewToolsContainer constructs a new ToolsContainer with the given tool definitions.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	st := &ToolsContainer{pageSize: 50}
	st.Replace(context.Background(), defs...)
	return st
}

// Use appends middleware applied to every subsequent tool call. The first
// middleware registered is the outermost.
func (st *ToolsContainer) Use(mw ...ToolMiddleware) {
	st.mu.Lock()
	st.middleware = append(st.middleware, mw...)
	st.mu.Unlock()
}

// SetPageSize sets the pagination size used by ListTools.
// A non-positive value is ignored.
func (st *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	st.mu.Lock()
	st.pageSize = n
	st.mu.Unlock()
}

// Snapshot returns a copy of the current tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// Replace atomically replaces the entire tool set. On duplicate names the
// last definition wins.
func (st *ToolsContainer) Replace(_ context.Context, defs ...StaticTool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.tools = make([]mcp.Tool, 0, len(defs))
	st.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		name := d.Descriptor.Name
		if _, dup := st.handlers[name]; dup {
			st.tools = removeTool(st.tools, name)
		}
		st.tools = append(st.tools, d.Descriptor)
		st.handlers[name] = d.Handler
	}
}

// Add registers a new tool if it doesn't duplicate an existing name.
// Returns true if added.
func (st *ToolsContainer) Add(_ context.Context, def StaticTool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.handlers == nil {
		st.handlers = make(map[string]ToolHandler)
	}
	name := def.Descriptor.Name
	if _, exists := st.handlers[name]; exists {
		return false
	}
	st.tools = append(st.tools, def.Descriptor)
	st.handlers[name] = def.Handler
	return true
}

// Remove removes a tool by name. Returns true if removed.
func (st *ToolsContainer) Remove(_ context.Context, name string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.handlers[name]; !ok {
		return false
	}
	st.tools = removeTool(st.tools, name)
	delete(st.handlers, name)
	return true
}

func removeTool(tools []mcp.Tool, name string) []mcp.Tool {
	n := 0
	for _, t := range tools {
		if t.Name == name {
			continue
		}
		tools[n] = t
		n++
	}
	return tools[:n]
}

// ListTools implements ToolsCapability with offset-based pagination.
func (st *ToolsContainer) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	st.mu.RLock()
	all := make([]mcp.Tool, len(st.tools))
	copy(all, st.tools)
	pageSize := st.pageSize
	st.mu.RUnlock()

	start := parseCursor(cursor)
	if start < 0 || start > len(all) {
		start = 0
	}
	end := min(start+pageSize, len(all))
	items := make([]mcp.Tool, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[mcp.Tool](strconv.Itoa(end))), nil
	}
	return NewPage(items), nil
}

// CallTool implements ToolsCapability. It dispatches to the named tool through
// the registered middleware chain.
func (st *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, MissingParamError("name")
	}
	st.mu.RLock()
	h, ok := st.handlers[req.Name]
	mw := st.middleware
	st.mu.RUnlock()
	if !ok || h == nil {
		return nil, &ToolNotFoundError{Name: req.Name}
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	return ChainToolMiddleware(mw...)(h)(ctx, session, req)
}

func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil {
		return -1
	}
	return n
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextBlock(s)}}
}
