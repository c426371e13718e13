package mcpservice

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is matched by errors.Is for calls to unregistered tools.
	ErrToolNotFound = errors.New("tool not found")
	// ErrRateLimited is returned by RateLimitToolMiddleware when no token is available.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrToolTimeout is returned by TimeoutToolMiddleware when the handler
	// does not finish before the deadline.
	ErrToolTimeout = errors.New("tool call timed out")
)

// ToolNotFoundError names the tool that could not be found.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string { return "Unknown tool: " + e.Name }

func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// ParamError reports invalid tool arguments. Transports surface it as a
// JSON-RPC invalid params error carrying Param in the error data.
type ParamError struct {
	// Param is the offending argument name; empty when the failure is not
	// attributable to a single argument.
	Param   string
	Message string
}

func (e *ParamError) Error() string { return e.Message }

// MissingParamError reports that the required argument param is absent.
func MissingParamError(param string) *ParamError {
	return &ParamError{Param: param, Message: fmt.Sprintf("missing required parameter: %s", param)}
}

// InvalidParamError reports that argument param failed validation.
func InvalidParamError(param string, format string, a ...any) *ParamError {
	return &ParamError{Param: param, Message: fmt.Sprintf(format, a...)}
}
