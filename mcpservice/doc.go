// Package mcpservice provides building blocks for implementing MCP server
// capabilities in a composable way. It exposes the capability interfaces
// consumed by the stdio transport, plus helpers for typed tools, tool
// middleware and logging level control.
//
// Conventions used throughout this package:
//   - Capability discovery methods return (cap, ok, err). A false ok indicates
//     that the capability is not supported; err is reserved for internal
//     failures while determining support.
//   - All methods accept a context.Context which MUST be honored for
//     cancellation.
//   - Pagination uses the Page[T] type; a nil cursor requests the first page.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("echo",
//	        func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	            return w.AppendText("You said: " + r.Args().Message)
//	        },
//	        mcpservice.WithToolDescription("Echo a message back to the caller"),
//	    ),
//	)
//	tools.Use(mcpservice.LoggingToolMiddleware(slog.Default()))
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//
// Argument errors returned from a tool (MissingParamError, *ParamError) and
// unknown tool names (*ToolNotFoundError) are surfaced by the transport as
// JSON-RPC invalid params errors; every other error becomes an internal error.
package mcpservice
