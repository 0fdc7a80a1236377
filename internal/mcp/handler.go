package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/keyhub/internal/model"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString returns the argument and whether it was supplied.
func optionalString(request mcp.CallToolRequest, key string) (*string, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a string", key)
	}
	return &s, nil
}

// optionalInt returns the argument and whether it was supplied. JSON numbers
// arrive as float64 and must be whole.
func optionalInt(request mcp.CallToolRequest, key string) (*int, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	f, ok := raw.(float64)
	if !ok {
		if i, isInt := raw.(int); isInt {
			return &i, nil
		}
		return nil, fmt.Errorf("parameter %q must be a number", key)
	}
	n := int(f)
	if float64(n) != f {
		return nil, fmt.Errorf("parameter %q must be a whole number", key)
	}
	return &n, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// keyView is a key as returned to an MCP client.
type keyView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	Usage        int64     `json:"usage"`
	RequestLimit int       `json:"request_limit"`
	CreatedAt    time.Time `json:"created_at"`
}

// view renders k with its secret masked unless raw is set.
func (s *MCPServer) view(k *model.APIKey, raw bool) keyView {
	v := keyView{
		ID:           k.ID,
		Name:         k.Name,
		Key:          s.keys.MaskKey(k.Secret),
		Usage:        k.Usage,
		RequestLimit: k.RequestLimit,
		CreatedAt:    k.CreatedAt,
	}
	if raw {
		v.Key = k.Secret
	}
	return v
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a lifecycle error into a tool error the agent can act
// on. Store failures are logged and reported without detail.
func (s *MCPServer) serviceError(op string, err error) (*mcp.CallToolResult, error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		return toolError("Invalid %s: %s", ve.Field, ve.Message)
	case errors.Is(err, model.ErrNotFound):
		return toolError("API key not found. Use keyhub_list_keys to see valid ids.")
	case errors.Is(err, model.ErrUnauthorized):
		return toolError("The configured MCP user is not authorized.")
	default:
		s.logger.Error("mcp tool failed", "tool", op, "error", err)
		return toolError("Key store unavailable, try again later.")
	}
}
