// Package stdio implements a minimal single-connection MCP transport over
// stdin/stdout. It is intended for embedding servers as subprocesses, local
// development, and environments where spawning a child process and piping JSON
// is simpler than running an HTTP server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : OS user (lightweight implicit principal)
//	Sessions         : Ephemeral; no host abstraction (memory only)
//	Transport        : Line / stream oriented JSON-RPC
//
// Requests are answered strictly in arrival order. initialize is optional:
// tools/list and tools/call work on a fresh connection, which is what simple
// conformance clients rely on. Unknown methods yield -32601; argument errors
// and unknown tool names yield -32602.
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "my-stdio-server", Version: "0.1.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
package stdio
