package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keyhub/internal/metrics"
	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/server/middleware"
	"github.com/faucetdb/keyhub/internal/service"
)

// KeyHandler serves the JSON API for a signed-in user's keys.
type KeyHandler struct {
	keys       *service.KeyService
	visibility service.VisibilityTracker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewKeyHandler creates a new KeyHandler. m may be nil.
func NewKeyHandler(keys *service.KeyService, visibility service.VisibilityTracker, m *metrics.Metrics, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, visibility: visibility, metrics: m, logger: logger}
}

// keyResponse is a key as shown to its owner. Key holds the raw secret only
// while it is revealed for the caller's session, the masked form otherwise.
type keyResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	Visible      bool      `json:"visible"`
	Usage        int64     `json:"usage"`
	RequestLimit int       `json:"request_limit"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *KeyHandler) present(k *model.APIKey, visible bool) keyResponse {
	out := keyResponse{
		ID:           k.ID,
		Name:         k.Name,
		Key:          h.keys.MaskKey(k.Secret),
		Visible:      visible,
		Usage:        k.Usage,
		RequestLimit: k.RequestLimit,
		CreatedAt:    k.CreatedAt,
	}
	if visible {
		out.Key = k.Secret
	}
	return out
}

func (h *KeyHandler) revealed(r *http.Request, p *model.Principal) map[string]bool {
	if p == nil {
		return nil
	}
	ids, err := h.visibility.Revealed(r.Context(), p.SessionID)
	if err != nil {
		// Reveal state is presentation only; fall back to masking everything.
		h.logger.WarnContext(r.Context(), "visibility lookup failed", "error", err)
		return nil
	}
	return ids
}

// ListKeys returns the caller's keys, newest first.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	keys, err := h.keys.ListKeys(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	revealed := h.revealed(r, p)
	resources := make([]keyResponse, 0, len(keys))
	for i := range keys {
		resources = append(resources, h.present(&keys[i], revealed[keys[i].ID]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	Name         string `json:"name"`
	RequestLimit *int   `json:"request_limit,omitempty"`
}

// CreateKey creates a key and returns it with the raw secret.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), map[string]interface{}{"field": bodyErrorField(err)})
		return
	}

	k, err := h.keys.CreateKey(r.Context(), middleware.GetPrincipal(r.Context()), service.CreateKeyInput{
		Name:         req.Name,
		RequestLimit: req.RequestLimit,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.present(k, true))
}

// GetKey returns one key, masked unless revealed in this session.
// GET /api/v1/keys/{id}
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	k, err := h.keys.GetKey(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(k, h.revealed(r, p)[k.ID]))
}

// updateKeyRequest is the expected payload for UpdateKey. Absent fields are
// left unchanged.
type updateKeyRequest struct {
	Name         *string `json:"name,omitempty"`
	RequestLimit *int    `json:"request_limit,omitempty"`
}

// UpdateKey renames a key and/or changes its request limit.
// PATCH /api/v1/keys/{id}
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), map[string]interface{}{"field": bodyErrorField(err)})
		return
	}

	p := middleware.GetPrincipal(r.Context())
	k, err := h.keys.UpdateKey(r.Context(), p, chi.URLParam(r, "id"), model.KeyUpdate{
		Name:         req.Name,
		RequestLimit: req.RequestLimit,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(k, h.revealed(r, p)[k.ID]))
}

// RegenerateKey replaces a key's secret and returns the new raw secret.
// POST /api/v1/keys/{id}/regenerate
func (h *KeyHandler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	k, err := h.keys.RegenerateKey(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(k, true))
}

// DeleteKey permanently deletes a key. The caller must confirm with
// ?confirm=true.
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if !queryBool(r, "confirm") {
		writeServiceError(w, r, h.logger,
			model.NewValidationError("confirm", "deleting a key is permanent; repeat with ?confirm=true"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.keys.DeleteKey(r.Context(), middleware.GetPrincipal(r.Context()), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key deleted",
		"id":      id,
	})
}

// ToggleVisibility flips whether the key's raw secret is shown in this
// session. The stored record is not touched.
// POST /api/v1/keys/{id}/visibility
func (h *KeyHandler) ToggleVisibility(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	k, err := h.keys.GetKey(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	visible, err := h.visibility.Toggle(r.Context(), p.SessionID, k.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "toggle visibility failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Visibility state unavailable, try again later")
		return
	}
	state := "hidden"
	if visible {
		state = "visible"
	}
	if h.metrics != nil {
		h.metrics.VisibilityToggles.WithLabelValues(state).Inc()
	}

	writeJSON(w, http.StatusOK, struct {
		keyResponse
		Message string `json:"message"`
	}{h.present(k, visible), "API key is now " + state})
}

// GetSecret returns the raw secret for copying, regardless of the reveal
// state.
// GET /api/v1/keys/{id}/secret
func (h *KeyHandler) GetSecret(w http.ResponseWriter, r *http.Request) {
	k, err := h.keys.GetKey(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"id": k.ID, "key": k.Secret})
}

// maskRequest is the expected payload for MaskKey.
type maskRequest struct {
	Key string `json:"key"`
}

// MaskKey returns the display form of an arbitrary secret.
// POST /api/v1/mask
func (h *KeyHandler) MaskKey(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), map[string]interface{}{"field": bodyErrorField(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"masked": h.keys.MaskKey(req.Key)})
}
