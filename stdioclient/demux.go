package stdioclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/hello-mcp-go/internal/jsonrpc"
)

var (
	// ErrTimeout is returned when no matching response arrives in time.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrClosed is returned once the response stream has ended.
	ErrClosed = errors.New("response stream closed")
	// ErrDuplicateID is returned when a call is registered for an ID that
	// already has a waiter.
	ErrDuplicateID = errors.New("request id already pending")
)

type waiter struct {
	ch chan *jsonrpc.Response // capacity 1; written at most once
}

// Demux correlates newline-delimited JSON-RPC responses with waiting calls.
//
// It is an io.Writer: feed it the peer's output stream (typically via
// io.Copy) in chunks of any size. Complete lines are decoded in arrival
// order; lines that are not responses, including non-JSON diagnostics, are
// skipped without disturbing other waiters. Every waiter is resolved exactly
// once and detached on every path.
type Demux struct {
	log         *slog.Logger
	timeout     time.Duration
	maxLineSize int
	backlogSize int

	mu           sync.Mutex
	buf          []byte
	pending      map[string]*waiter // id.Key() -> waiter
	backlog      map[string]*jsonrpc.Response
	backlogOrder []string
	closed       bool
	closeErr     error
	done         chan struct{}
}

// NewDemux constructs a Demux. Relevant options: WithTimeout,
// WithMaxLineSize, WithBacklog and WithLogger.
func NewDemux(opts ...Option) *Demux {
	o := newOptions(opts)
	return &Demux{
		log:         o.log,
		timeout:     o.timeout,
		maxLineSize: o.maxLineSize,
		backlogSize: o.backlog,
		pending:     make(map[string]*waiter),
		backlog:     make(map[string]*jsonrpc.Response),
		done:        make(chan struct{}),
	}
}

// Write implements io.Writer. It never fails so that a peer is never blocked
// on a full pipe, even after Close.
func (d *Demux) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, p...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		d.handleLineLocked(d.buf[:i])
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) > d.maxLineSize {
		d.log.Warn("demux.line.too_long", slog.Int("len", len(d.buf)), slog.Int("max", d.maxLineSize))
		d.buf = nil
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

func (d *Demux) handleLineLocked(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	resp, err := jsonrpc.ParseResponse(line)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrNotResponse) {
			d.log.Debug("demux.line.ignored", slog.String("reason", "not a response"))
		} else {
			d.log.Debug("demux.line.discarded", slog.String("err", err.Error()), slog.Int("len", len(line)))
		}
		return
	}

	key := resp.ID.Key()
	if w, ok := d.pending[key]; ok {
		delete(d.pending, key)
		w.ch <- resp
		return
	}
	if d.backlogSize == 0 || d.closed {
		d.log.Debug("demux.response.unmatched", slog.String("id", resp.ID.String()))
		return
	}
	if _, ok := d.backlog[key]; !ok {
		d.backlogOrder = append(d.backlogOrder, key)
	}
	d.backlog[key] = resp
	for len(d.backlogOrder) > d.backlogSize {
		oldest := d.backlogOrder[0]
		d.backlogOrder = d.backlogOrder[1:]
		delete(d.backlog, oldest)
		d.log.Debug("demux.backlog.evicted", slog.String("key", oldest))
	}
}

// Pending reports the number of calls currently waiting for a response.
func (d *Demux) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails every waiting call with an error matching ErrClosed that also
// wraps cause, when non-nil. Later calls fail immediately. Close is
// idempotent; only the first cause is kept.
func (d *Demux) Close(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if cause != nil && !errors.Is(cause, io.EOF) {
		d.closeErr = fmt.Errorf("%w: %w", ErrClosed, cause)
	} else {
		d.closeErr = ErrClosed
	}
	clear(d.pending)
	clear(d.backlog)
	d.backlogOrder = nil
	close(d.done)
}

// RoundTrip registers a waiter for req.ID, writes req to w as one line and
// waits for the matching response. It returns exactly one of: the response
// (which may carry a JSON-RPC error object), ErrTimeout, ctx.Err(), or
// ErrClosed. The waiter is detached before RoundTrip returns.
func (d *Demux) RoundTrip(ctx context.Context, w io.Writer, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req == nil || req.ID.IsNil() {
		return nil, errors.New("round trip requires a request with an id")
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	wt, err := d.register(req.ID)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		d.detach(req.ID, wt)
		return nil, fmt.Errorf("write request: %w", err)
	}
	return d.wait(ctx, req.ID, wt)
}

func (d *Demux) register(id *jsonrpc.RequestID) (*waiter, error) {
	key := id.Key()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, d.closeErr
	}
	if _, ok := d.pending[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	wt := &waiter{ch: make(chan *jsonrpc.Response, 1)}
	if resp, ok := d.backlog[key]; ok {
		delete(d.backlog, key)
		for i, k := range d.backlogOrder {
			if k == key {
				d.backlogOrder = append(d.backlogOrder[:i], d.backlogOrder[i+1:]...)
				break
			}
		}
		wt.ch <- resp
		return wt, nil
	}
	d.pending[key] = wt
	return wt, nil
}

// detach removes wt if it is still registered. When it was already removed
// by a delivery, the delivered response is returned instead.
func (d *Demux) detach(id *jsonrpc.RequestID, wt *waiter) (*jsonrpc.Response, bool) {
	key := id.Key()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.pending[key]; ok && cur == wt {
		delete(d.pending, key)
		return nil, false
	}
	select {
	case resp := <-wt.ch:
		return resp, true
	default:
		return nil, false
	}
}

func (d *Demux) wait(ctx context.Context, id *jsonrpc.RequestID, wt *waiter) (*jsonrpc.Response, error) {
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case resp := <-wt.ch:
		return resp, nil
	case <-timer.C:
		if resp, ok := d.detach(id, wt); ok {
			return resp, nil
		}
		d.log.Debug("demux.wait.timeout", slog.String("id", id.String()), slog.Int64("timeout_ms", d.timeout.Milliseconds()))
		return nil, fmt.Errorf("%w: id %s after %s", ErrTimeout, id, d.timeout)
	case <-ctx.Done():
		if resp, ok := d.detach(id, wt); ok {
			return resp, nil
		}
		return nil, ctx.Err()
	case <-d.done:
		if resp, ok := d.detach(id, wt); ok {
			return resp, nil
		}
		d.mu.Lock()
		err := d.closeErr
		d.mu.Unlock()
		return nil, err
	}
}
