package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/service"
)

// registerTools registers the key lifecycle tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read tools -----

	srv.AddTool(
		mcp.NewTool("keyhub_list_keys",
			mcp.WithDescription(
				"List the user's API keys, newest first. Secrets are masked; "+
					"each entry has id, name, usage, request_limit and created_at.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keyhub_mask_key",
			mcp.WithDescription(
				"Return the display form of a secret: everything up to the first "+
					"\"-\" is kept and the rest is replaced with bullets.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("Secret to mask"),
			),
		),
		s.handleMaskKey,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("keyhub_create_key",
			mcp.WithDescription(
				"Create an API key. The response contains the raw secret; later "+
					"listings only show it masked.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Display name for the key"),
			),
			mcp.WithNumber("request_limit",
				mcp.Description(fmt.Sprintf("Request allowance (default %d)", s.keys.DefaultLimit())),
				mcp.Min(1),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("keyhub_update_key",
			mcp.WithDescription(
				"Rename a key and/or change its request limit. Omitted fields are "+
					"left unchanged; at least one is required.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key id from keyhub_list_keys"),
			),
			mcp.WithString("name",
				mcp.Description("New display name"),
			),
			mcp.WithNumber("request_limit",
				mcp.Description("New request allowance"),
				mcp.Min(1),
			),
		),
		s.handleUpdateKey,
	)

	srv.AddTool(
		mcp.NewTool("keyhub_regenerate_key",
			mcp.WithDescription(
				"Replace a key's secret. Clients using the old secret stop working. "+
					"Returns the new raw secret.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key id from keyhub_list_keys"),
			),
		),
		s.handleRegenerateKey,
	)

	srv.AddTool(
		mcp.NewTool("keyhub_delete_key",
			mcp.WithDescription(
				"Permanently delete a key. Set confirm to true only after the user "+
					"has agreed; the key cannot be recovered.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key id from keyhub_list_keys"),
			),
			mcp.WithBoolean("confirm",
				mcp.Required(),
				mcp.Description("Must be true to delete"),
			),
		),
		s.handleDeleteKey,
	)
}

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keys, err := s.keys.ListKeys(ctx, s.principal)
	if err != nil {
		return s.serviceError("keyhub_list_keys", err)
	}

	views := make([]keyView, len(keys))
	for i := range keys {
		views[i] = s.view(&keys[i], false)
	}
	return successJSON(map[string]interface{}{
		"keys":  views,
		"count": len(views),
	})
}

func (s *MCPServer) handleMaskKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}
	return successJSON(map[string]string{"masked": s.keys.MaskKey(key)})
}

func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	limit, err := optionalInt(request, "request_limit")
	if err != nil {
		return toolError("%v", err)
	}

	k, err := s.keys.CreateKey(ctx, s.principal, service.CreateKeyInput{Name: name, RequestLimit: limit})
	if err != nil {
		return s.serviceError("keyhub_create_key", err)
	}
	return successJSON(s.view(k, true))
}

func (s *MCPServer) handleUpdateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	name, err := optionalString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	limit, err := optionalInt(request, "request_limit")
	if err != nil {
		return toolError("%v", err)
	}

	k, err := s.keys.UpdateKey(ctx, s.principal, id, model.KeyUpdate{Name: name, RequestLimit: limit})
	if err != nil {
		return s.serviceError("keyhub_update_key", err)
	}
	return successJSON(s.view(k, false))
}

func (s *MCPServer) handleRegenerateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}

	k, err := s.keys.RegenerateKey(ctx, s.principal, id)
	if err != nil {
		return s.serviceError("keyhub_regenerate_key", err)
	}
	return successJSON(s.view(k, true))
}

func (s *MCPServer) handleDeleteKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	if !request.GetBool("confirm", false) {
		return toolError("Deleting a key is permanent. Ask the user, then call again with confirm=true.")
	}

	if err := s.keys.DeleteKey(ctx, s.principal, id); err != nil {
		return s.serviceError("keyhub_delete_key", err)
	}
	return successJSON(map[string]interface{}{
		"deleted": true,
		"id":      id,
	})
}
