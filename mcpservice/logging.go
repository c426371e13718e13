package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/hello-mcp-go/mcp"
	"github.com/ggoodman/hello-mcp-go/sessions"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging returns a LoggingCapability that maps MCP LoggingLevel
// to a provided slog.LevelVar. This adjusts process-wide slog level when used
// with handlers created from the same LevelVar.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, _ sessions.Session, level mcp.LoggingLevel) error {
	var slogLevel slog.Level
	switch level {
	case mcp.LoggingLevelDebug:
		slogLevel = slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		slogLevel = slog.LevelInfo
	case mcp.LoggingLevelWarning:
		slogLevel = slog.LevelWarn
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		slogLevel = slog.LevelError
	default:
		return ErrInvalidLoggingLevel
	}
	if l.lv != nil {
		l.lv.Set(slogLevel)
	}
	return nil
}
