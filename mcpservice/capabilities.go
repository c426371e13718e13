package mcpservice

import (
	"context"

	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/sessions"
)

// ServerCapabilities is consumed by the stdio transport to answer
// initialize and to route tools/* and logging/* requests.
type ServerCapabilities interface {
	// GetServerInfo returns implementation information surfaced in the
	// initialize result.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's preferred MCP protocol
	// version. If ok is false the transport falls back to mcp.LatestProtocolVersion.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions that are
	// included in the initialize result when ok is true.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability if supported. The
	// returned value MUST be safe for concurrent use.
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)

	// GetLoggingCapability returns the logging capability if supported.
	GetLoggingCapability(ctx context.Context, session sessions.Session) (cap LoggingCapability, ok bool, err error)
}

// ToolsCapability defines the server's tools surface area. All methods MUST
// be safe for concurrent use.
type ToolsCapability interface {
	// ListTools returns a (possibly paginated) list of tools available to the session.
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool. Unknown tools yield an error matching
	// ErrToolNotFound; argument problems yield a *ParamError.
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// LoggingCapability allows the client to adjust the server's logging level.
type LoggingCapability interface {
	SetLevel(ctx context.Context, session sessions.Session, level mcp.LoggingLevel) error
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page constructed via NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor sets the next cursor on the Page to indicate that more
// results are available.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) {
		p.NextCursor = &cursor
	}
}

// NewPage constructs a Page with the provided items. If items is nil, it will
// be replaced with an empty slice so that listings encode as [] rather than null.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
