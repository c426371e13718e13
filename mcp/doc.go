// Package mcp contains the protocol data types and constants shared by the
// stdio server, the stdio client and the conformance harness. It mirrors the
// wire representation of the Model Context Protocol for the subset this
// module speaks: initialize, ping, tools/list, tools/call and
// logging/setLevel.
//
// The package is free of transport logic. Framing, correlation and timeouts
// live in the stdio and stdioclient packages; tool semantics live in
// mcpservice.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{mcp.TextBlock("hello")},
//	}
//
// # Compatibility
//
// LatestProtocolVersion is the revision the server prefers. The server
// accepts any entry of SupportedProtocolVersions requested by a client during
// initialize and falls back to LatestProtocolVersion otherwise.
package mcp
