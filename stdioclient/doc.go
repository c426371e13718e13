// Package stdioclient drives a line-delimited JSON-RPC peer, typically an MCP
// server spawned as a child process.
//
// The core is Demux, an io.Writer that reassembles lines from arbitrarily
// chunked output and hands each response to the call waiting on its ID.
// Client layers process ownership on top: it starts the child, pumps its
// stdout into a Demux, keeps its stderr out of the protocol stream and
// guarantees the child is killed and reaped by Close.
//
//	c, err := stdioclient.Spawn(ctx, "./hello-mcp", nil)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	res, err := c.CallTool(ctx, "echo", map[string]any{"message": "hi"})
package stdioclient
