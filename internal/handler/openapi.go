package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/faucetdb/keyhub/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document for the key API.
type OpenAPIHandler struct {
	opts   openapi.Options
	cached []byte
}

// NewOpenAPIHandler creates a new OpenAPIHandler. With a fixed BaseURL the
// document is rendered once; otherwise the server URL is taken from each
// request's Host.
func NewOpenAPIHandler(opts openapi.Options) *OpenAPIHandler {
	h := &OpenAPIHandler{opts: opts}
	if opts.BaseURL != "" {
		if b, err := json.Marshal(openapi.Generate(opts)); err == nil {
			h.cached = b
		}
	}
	return h
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	doc := h.cached
	if doc == nil {
		opts := h.opts
		if opts.BaseURL == "" {
			opts.BaseURL = requestBaseURL(r)
		}
		b, err := json.Marshal(openapi.Generate(opts))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to render OpenAPI document: "+err.Error())
			return
		}
		doc = b
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// requestBaseURL reconstructs the externally visible base URL of r.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
