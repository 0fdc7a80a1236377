package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/store"
)

// componentSchemas returns the reusable schemas referenced by the key
// operations.
func componentSchemas() openapi3.Schemas {
	apiKey := objectSchema(openapi3.Schemas{
		"id":            stringProp("Key id (UUIDv7)", "uuid"),
		"name":          stringProp("Display name", ""),
		"key":           stringProp("Secret, masked unless visible is true", ""),
		"visible":       {Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: "Whether key holds the raw secret"}},
		"usage":         intProp("Requests counted against the key", 0),
		"request_limit": limitProp(),
		"created_at":    stringProp("Creation time", "date-time"),
	}, "id", "name", "key", "visible", "usage", "request_limit", "created_at")

	visibility := objectSchema(openapi3.Schemas{
		"message": stringProp("\"API key is now visible\" or \"API key is now hidden\"", ""),
	})
	visibility.Value.AllOf = openapi3.SchemaRefs{schemaRef("APIKey")}

	name := stringProp("Display name; surrounding whitespace is trimmed", "")
	name.Value.MinLength = 1
	maxLen := uint64(store.MaxNameLength)
	name.Value.MaxLength = &maxLen

	limit := limitProp()
	limit.Value.Default = model.DefaultRequestLimit

	return openapi3.Schemas{
		"APIKey": apiKey,
		"APIKeyList": objectSchema(openapi3.Schemas{
			"resource": {Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: schemaRef("APIKey")}},
			"meta": objectSchema(openapi3.Schemas{
				"count": intProp("Number of keys returned", 0),
			}),
		}, "resource"),
		"APIKeyCreate": objectSchema(openapi3.Schemas{
			"name":          name,
			"request_limit": limit,
		}, "name"),
		"APIKeyUpdate": objectSchema(openapi3.Schemas{
			"name":          name,
			"request_limit": limitProp(),
		}),
		"VisibilityResult": visibility,
		"Principal": objectSchema(openapi3.Schemas{
			"user_id": stringProp("User id", "uuid"),
			"email":   stringProp("", "email"),
			"name":    stringProp("", ""),
		}, "user_id"),
		"ErrorResponse": objectSchema(openapi3.Schemas{
			"error": objectSchema(openapi3.Schemas{
				"code":    {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
				"message": stringProp("", ""),
				"context": {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}, "code", "message"),
		}, "error"),
	}
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   required,
		},
	}
}

func stringProp(description, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"string"},
			Format:      format,
			Description: description,
		},
	}
}

func intProp(description string, min float64) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"integer"},
			Format:      "int64",
			Description: description,
			Min:         &min,
		},
	}
}

// limitProp is a request limit: a positive integer that fits a 32-bit
// column.
func limitProp() *openapi3.SchemaRef {
	p := intProp("Request allowance", 1)
	upper := float64(store.MaxRequestLimit)
	p.Value.Max = &upper
	p.Value.Format = "int32"
	return p
}
