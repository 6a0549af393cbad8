package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

func optionalBool(request mcp.CallToolRequest, key string) bool {
	return request.GetBool(key, false)
}

// stringMapArg extracts an object argument whose values must all be strings.
// A missing argument yields a nil map.
func stringMapArg(request mcp.CallToolRequest, key string) (map[string]string, error) {
	args := request.GetArguments()
	if args == nil {
		return nil, nil
	}
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an object", key)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("attribute %q must be a string, got %T", k, v)
		}
		out[k] = s
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns an error result the client can read and act on. It does
// not end the session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError maps a key service error to a tool error. Storage details stay
// out of the message.
func serviceError(action string, err error) (*mcp.CallToolResult, error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return toolError("Invalid %s: %s", verr.Field, verr.Message)
	case errors.Is(err, config.ErrNotFound):
		return toolError("Key not found")
	case errors.Is(err, config.ErrUnavailable),
		errors.Is(err, service.ErrUnavailable):
		return toolError("Failed to %s: key store temporarily unavailable", action)
	case errors.Is(err, keycodec.ErrEntropySource):
		return toolError("Failed to %s: key generation failed", action)
	default:
		return toolError("Failed to %s", action)
	}
}
