package sessions

import "github.com/ggoodman/hello-mcp-go/mcp"

// Session represents the peer connected to a transport. For stdio there is
// exactly one session per process. Implementations MUST be safe for
// concurrent use.
type Session interface {
	SessionID() string
	UserID() string
	// ProtocolVersion is the negotiated MCP protocol version. It is empty
	// until the client completes initialize.
	ProtocolVersion() string
	// ClientInfo is the implementation info the client sent in initialize.
	ClientInfo() mcp.ImplementationInfo
}
