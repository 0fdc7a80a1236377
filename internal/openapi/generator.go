package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/keyhub/internal/secret"
)

const keysTag = "keys"

// Options describes the deployment the document is generated for.
type Options struct {
	BaseURL    string
	Version    string
	CookieName string
}

// Generate builds the OpenAPI 3.1 document for the key API served under
// /api/v1.
func Generate(opts Options) *openapi3.T {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.CookieName == "" {
		opts.CookieName = "keyhub_session"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keyhub API",
			Description: "Create, list, rename, regenerate, reveal and delete the signed-in user's API keys.",
			Version:     opts.Version,
		},
		Servers: openapi3.Servers{
			{URL: opts.BaseURL},
		},
		Tags: openapi3.Tags{
			{Name: keysTag, Description: "API key lifecycle"},
			{Name: "session", Description: "Signed-in identity"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"sessionCookie": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "cookie",
				Name: opts.CookieName,
			},
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{
		{"sessionCookie": {}},
		{"bearerAuth": {}},
	}

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get:  listKeysOperation(),
		Post: createKeyOperation(),
	})
	doc.Paths.Set("/api/v1/keys/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParameter()},
		Get:        getKeyOperation(),
		Patch:      updateKeyOperation(),
		Delete:     deleteKeyOperation(),
	})
	doc.Paths.Set("/api/v1/keys/{id}/regenerate", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParameter()},
		Post: &openapi3.Operation{
			Tags:        []string{keysTag},
			Summary:     "Regenerate a key's secret",
			Description: "Replaces the secret; name, limit, usage and creation time are unchanged. The response carries the new raw secret.",
			OperationID: "regenerate_key",
			Responses:   newResponses("200", "Key with its new secret", schemaRef("APIKey")),
		},
	})
	doc.Paths.Set("/api/v1/keys/{id}/visibility", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParameter()},
		Post: &openapi3.Operation{
			Tags:        []string{keysTag},
			Summary:     "Toggle whether the secret is shown",
			Description: "Flips the reveal state for the calling session only. The stored key is not modified.",
			OperationID: "toggle_key_visibility",
			Responses:   newResponses("200", "Key in its new display state", schemaRef("VisibilityResult")),
		},
	})
	doc.Paths.Set("/api/v1/keys/{id}/secret", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParameter()},
		Get: &openapi3.Operation{
			Tags:        []string{keysTag},
			Summary:     "Read the raw secret",
			Description: "Returns the raw secret for copying regardless of the reveal state.",
			OperationID: "get_key_secret",
			Responses: newResponses("200", "Raw secret", objectSchema(openapi3.Schemas{
				"id":  stringProp("Key id", "uuid"),
				"key": stringProp("Raw secret", ""),
			})),
		},
	})
	doc.Paths.Set("/api/v1/mask", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{keysTag},
			Summary:     "Mask a secret",
			Description: fmt.Sprintf("Keeps everything up to the first \"-\" and replaces the rest with at most %d bullets.", secret.Length),
			OperationID: "mask_key",
			RequestBody: jsonBody("Secret to mask", objectSchema(openapi3.Schemas{
				"key": stringProp("Secret", ""),
			}, "key")),
			Responses: newResponses("200", "Masked form", objectSchema(openapi3.Schemas{
				"masked": stringProp("Display form", ""),
			})),
		},
	})
	doc.Paths.Set("/api/v1/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Current user",
			OperationID: "get_me",
			Responses:   newResponses("200", "Signed-in identity", schemaRef("Principal")),
		},
	})

	return doc
}

func idParameter() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("id").
			WithDescription("Key id").
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "uuid"}),
	}
}

func listKeysOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{keysTag},
		Summary:     "List keys",
		Description: "The caller's keys, newest first. Secrets are masked unless revealed in this session.",
		OperationID: "list_keys",
		Responses:   newResponses("200", "Keys", schemaRef("APIKeyList")),
	}
}

func createKeyOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{keysTag},
		Summary:     "Create a key",
		Description: "Generates a new secret. The response is the only place the raw secret appears unprompted.",
		OperationID: "create_key",
		RequestBody: jsonBody("New key", schemaRef("APIKeyCreate")),
		Responses:   newResponses("201", "Created key with its raw secret", schemaRef("APIKey")),
	}
}

func getKeyOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{keysTag},
		Summary:     "Get a key",
		OperationID: "get_key",
		Responses:   newResponses("200", "Key", schemaRef("APIKey")),
	}
}

func updateKeyOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{keysTag},
		Summary:     "Rename a key or change its limit",
		Description: "Absent fields are left unchanged. At least one field is required.",
		OperationID: "update_key",
		RequestBody: jsonBody("Fields to change", schemaRef("APIKeyUpdate")),
		Responses:   newResponses("200", "Updated key", schemaRef("APIKey")),
	}
}

func deleteKeyOperation() *openapi3.Operation {
	confirm := openapi3.NewQueryParameter("confirm").
		WithDescription("Must be \"true\"; deletion is permanent.").
		WithRequired(true).
		WithSchema(&openapi3.Schema{Type: &openapi3.Types{"boolean"}})

	return &openapi3.Operation{
		Tags:        []string{keysTag},
		Summary:     "Delete a key",
		Description: "Permanently deletes the key. Deleting it again returns 404.",
		OperationID: "delete_key",
		Parameters:  openapi3.Parameters{&openapi3.ParameterRef{Value: confirm}},
		Responses: newResponses("200", "Deleted", objectSchema(openapi3.Schemas{
			"success": {Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
			"message": stringProp("", ""),
			"id":      stringProp("Deleted key id", "uuid"),
		})),
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// newResponses builds a Responses map with a success response and the error
// responses every key route can return.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := schemaRef("ErrorResponse")
	for _, e := range []struct{ code, desc string }{
		{"400", "Invalid input; error.context.field names the offending field"},
		{"401", "Missing or invalid session"},
		{"404", "No such key for this user"},
		{"503", "Key store unavailable"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func schemaRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}
