// Package harness verifies an MCP echo server over stdio.
//
// Each Case runs against its own freshly spawned server process and the
// process is killed and reaped when the case ends, whether it passed, failed,
// timed out or panicked. Cases run one after another with a single request
// in flight at a time.
package harness
