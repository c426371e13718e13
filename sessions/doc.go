// Package sessions defines the session abstraction shared by the stdio
// transport and server capability code. A session represents the connected
// peer: a stable identifier, the local principal, and the protocol version and
// client info negotiated during initialize.
//
// The stdio transport owns exactly one session per process. It is created
// before the first line is read, so capability code always receives a
// non-nil Session even when the client skips initialize.
package sessions
