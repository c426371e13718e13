package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/hello-mcp-go/stdioclient"
	"github.com/joeshaw/envdecode"
)

const (
	DefaultServerPath = "./bin/hello-mcp"
	DefaultTimeout    = 5 * time.Second
	DefaultPrefix     = "You said: "
	DefaultMaxLength  = 100
)

// Config for a verification run. Defaults can be loaded via envdecode; the
// mcp-verify command layers flags on top.
type Config struct {
	// ServerPath is the server executable under test. ENV: MCP_VERIFY_SERVER
	ServerPath string `env:"MCP_VERIFY_SERVER,default=./bin/hello-mcp"`
	// ServerArgs are passed to the server, separated by ';' in the environment.
	// ENV: MCP_VERIFY_SERVER_ARGS
	ServerArgs []string `env:"MCP_VERIFY_SERVER_ARGS"`
	// Env holds extra KEY=VALUE pairs for the server, separated by ';'.
	// ENV: MCP_VERIFY_SERVER_ENV
	Env []string `env:"MCP_VERIFY_SERVER_ENV"`
	// Timeout bounds each request. ENV: MCP_VERIFY_TIMEOUT
	Timeout time.Duration `env:"MCP_VERIFY_TIMEOUT,default=5s"`
	// Prefix the echo tool is expected to prepend. ENV: MCP_VERIFY_PREFIX
	Prefix string `env:"MCP_VERIFY_PREFIX"`
	// MaxLength is the expected message limit. ENV: MCP_VERIFY_MAX_LENGTH
	MaxLength int `env:"MCP_VERIFY_MAX_LENGTH,default=100"`
	// Backlog retains unmatched responses per client. ENV: MCP_VERIFY_BACKLOG
	Backlog int `env:"MCP_VERIFY_BACKLOG,default=0"`
	// StderrLimit bounds the server stderr tail kept for failed cases.
	// ENV: MCP_VERIFY_STDERR_LIMIT
	StderrLimit int `env:"MCP_VERIFY_STDERR_LIMIT,default=65536"`
	// Dir is the server working directory; empty inherits ours.
	// ENV: MCP_VERIFY_SERVER_DIR
	Dir string `env:"MCP_VERIFY_SERVER_DIR"`
	// Color enables ANSI colors in the report. ENV: MCP_VERIFY_COLOR
	Color bool `env:"MCP_VERIFY_COLOR,default=true"`
}

// ConfigFromEnv loads Config from the environment and fills defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("harness config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.ServerPath == "" {
		c.ServerPath = DefaultServerPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.Backlog < 0 {
		c.Backlog = 0
	}
	if c.StderrLimit <= 0 {
		c.StderrLimit = stdioclient.DefaultStderrLimit
	}
	return c
}
