package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	keysURI        = "keyhub://keys"
	keyURIPrefix   = "keyhub://keys/"
	keyURITemplate = "keyhub://keys/{id}"
)

// registerResources adds read-only views of the user's keys.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			keysURI,
			"API Keys",
			mcp.WithResourceDescription("The user's API keys, newest first, with secrets masked."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keyURITemplate,
			"API Key",
			mcp.WithTemplateDescription("A single API key by id, with its secret masked."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyResource,
	)
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.ListKeys(ctx, s.principal)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	views := make([]keyView, len(keys))
	for i := range keys {
		views[i] = s.view(&keys[i], false)
	}
	return jsonContents(keysURI, views)
}

func (s *MCPServer) handleKeyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	id := strings.TrimPrefix(uri, keyURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid key URI %q", uri)
	}
	k, err := s.keys.GetKey(ctx, s.principal, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", id, err)
	}
	return jsonContents(uri, s.view(k, false))
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
