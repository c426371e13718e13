package stdioclient

import (
	"log/slog"
	"time"
)

const (
	// DefaultTimeout bounds the wait for a single response.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxLineSize bounds a buffered partial line.
	DefaultMaxLineSize = 4 << 20
	// DefaultStderrLimit bounds the retained child stderr.
	DefaultStderrLimit = 64 << 10
	// DefaultCloseTimeout bounds how long Close waits for the output pumps.
	DefaultCloseTimeout = 2 * time.Second
)

// Option customizes a Demux or a Client.
type Option func(*options)

type options struct {
	log          *slog.Logger
	timeout      time.Duration
	maxLineSize  int
	backlog      int
	stderrLimit  int
	closeTimeout time.Duration
	env          []string
	dir          string
}

func newOptions(opts []Option) options {
	o := options{
		log:          slog.Default(),
		timeout:      DefaultTimeout,
		maxLineSize:  DefaultMaxLineSize,
		stderrLimit:  DefaultStderrLimit,
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTimeout sets how long a call waits for its response. Non-positive
// values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxLineSize bounds the bytes buffered while waiting for a newline.
// Non-positive values are ignored.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// WithBacklog retains up to n responses that arrive while nobody waits for
// their ID, handing them to a later call with that ID. The oldest entry is
// evicted first. The default of zero drops unmatched responses.
func WithBacklog(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.backlog = n
		}
	}
}

// WithStderrLimit bounds the child stderr retained for Stderr.
func WithStderrLimit(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.stderrLimit = n
		}
	}
}

// WithCloseTimeout bounds how long Close waits for output to drain after the
// child is killed.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithEnv appends KEY=VALUE pairs to the spawned child's environment.
func WithEnv(env ...string) Option {
	return func(o *options) { o.env = append(o.env, env...) }
}

// WithDir sets the spawned child's working directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}
