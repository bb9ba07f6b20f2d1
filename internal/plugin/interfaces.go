package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrToolEndpointMissing = errors.New("tool endpoint is not configured")

// ToolInvoker calls one externally hosted tool.
type ToolInvoker interface {
	Invoke(ctx context.Context, call ToolCommand) (ToolResult, error)
}

type ToolCommand struct {
	Endpoint  string
	Name      string
	Arguments map[string]interface{}
	Secret    string
}

type ToolResult struct {
	Data json.RawMessage
}

func NewToolResult(data json.RawMessage) ToolResult {
	return ToolResult{Data: data}
}

// String renders the result as the JSON text handed back to the model.
func (r ToolResult) String() string {
	if len(r.Data) == 0 {
		return "null"
	}
	return string(r.Data)
}

type ToolCallError struct {
	ToolName string
	Endpoint string
	Cause    error
}

func (e *ToolCallError) Error() string {
	if e == nil {
		return ""
	}
	cause := "unknown error"
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	endpoint := strings.TrimSpace(e.Endpoint)
	if endpoint == "" {
		return fmt.Sprintf("failed to call external tool %s: %s", e.ToolName, cause)
	}
	return fmt.Sprintf("failed to call external tool %s at %s: %s", e.ToolName, endpoint, cause)
}

func (e *ToolCallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ToolCallErrorFrom(err error) (*ToolCallError, bool) {
	var callErr *ToolCallError
	if !errors.As(err, &callErr) || callErr == nil {
		return nil, false
	}
	return callErr, true
}

// EndpointName maps a snake_case tool name onto the PascalCase path segment the
// tool host serves, e.g. get_weather -> GetWeather.
func EndpointName(toolName string) string {
	parts := strings.Split(strings.TrimSpace(toolName), "_")
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		runes := []rune(strings.ToLower(part))
		b.WriteString(strings.ToUpper(string(runes[0])))
		b.WriteString(string(runes[1:]))
	}
	return b.String()
}

// ToolURL joins a base endpoint and the PascalCase tool segment.
func ToolURL(baseURL, toolName string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/" + EndpointName(toolName)
}
