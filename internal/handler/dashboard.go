package handler

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/server/middleware"
	"github.com/faucetdb/keyhub/internal/service"
)

const flashCookie = "keyhub_flash"

// DashboardHandler serves the HTML dashboard. Every action is a plain form
// post that redirects back to the key table with a flash message.
type DashboardHandler struct {
	keys       *service.KeyService
	visibility service.VisibilityTracker
	providers  []string
	auth       *AuthHandler
	tmpl       *template.Template
	logger     *slog.Logger
}

// NewDashboardHandler creates a new DashboardHandler. auth is used for the
// sign-out form.
func NewDashboardHandler(keys *service.KeyService, visibility service.VisibilityTracker, auth *AuthHandler, providers []string, tmpl *template.Template, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		keys:       keys,
		visibility: visibility,
		providers:  providers,
		auth:       auth,
		tmpl:       tmpl,
		logger:     logger,
	}
}

type flash struct {
	Kind    string
	Message string
}

type keyRow struct {
	ID           string
	Name         string
	Display      string
	Visible      bool
	Usage        int64
	RequestLimit int
	CreatedAt    time.Time
}

type page struct {
	Title        string
	User         *model.Principal
	Flash        *flash
	Providers    []string
	Keys         []keyRow
	Key          *keyRow
	DefaultLimit int
}

func (h *DashboardHandler) row(k *model.APIKey, visible bool) keyRow {
	display := h.keys.MaskKey(k.Secret)
	if visible {
		display = k.Secret
	}
	return keyRow{
		ID:           k.ID,
		Name:         k.Name,
		Display:      display,
		Visible:      visible,
		Usage:        k.Usage,
		RequestLimit: k.RequestLimit,
		CreatedAt:    k.CreatedAt,
	}
}

// Index renders the sign-in page or, with a session, the key table.
// GET /
func (h *DashboardHandler) Index(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	pg := page{User: p, Flash: h.takeFlash(w, r)}
	if p == nil {
		pg.Title = "Sign in"
		pg.Providers = h.providers
		h.render(w, r, http.StatusOK, "signin.html", pg)
		return
	}

	keys, err := h.keys.ListKeys(r.Context(), p)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	revealed, err := h.visibility.Revealed(r.Context(), p.SessionID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "visibility lookup failed", "error", err)
	}
	pg.Keys = make([]keyRow, 0, len(keys))
	for i := range keys {
		pg.Keys = append(pg.Keys, h.row(&keys[i], revealed[keys[i].ID]))
	}
	pg.DefaultLimit = h.keys.DefaultLimit()
	h.render(w, r, http.StatusOK, "index.html", pg)
}

// Create handles the new-key form.
// POST /keys
func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.formLimit(w, r)
	if !ok {
		return
	}
	k, err := h.keys.CreateKey(r.Context(), middleware.GetPrincipal(r.Context()), service.CreateKeyInput{
		Name:         r.PostFormValue("name"),
		RequestLimit: limit,
	})
	if err != nil {
		h.redirectError(w, r, err)
		return
	}
	h.redirect(w, r, "success", "API key "+k.Name+" created")
}

// Edit handles the edit form, which changes the name and limit together.
// POST /keys/{id}/edit
func (h *DashboardHandler) Edit(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.formLimit(w, r)
	if !ok {
		return
	}
	var u model.KeyUpdate
	if _, present := r.PostForm["name"]; present {
		name := r.PostFormValue("name")
		u.Name = &name
	}
	u.RequestLimit = limit

	if _, err := h.keys.UpdateKey(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id"), u); err != nil {
		h.redirectError(w, r, err)
		return
	}
	h.redirect(w, r, "success", "API key updated")
}

// Regenerate replaces a key's secret and reveals the new one.
// POST /keys/{id}/regenerate
func (h *DashboardHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	k, err := h.keys.RegenerateKey(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.redirectError(w, r, err)
		return
	}
	revealed, err := h.visibility.Revealed(r.Context(), p.SessionID)
	if err == nil && !revealed[k.ID] {
		_, err = h.visibility.Toggle(r.Context(), p.SessionID, k.ID)
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "reveal after regenerate failed", "error", err)
	}
	h.redirect(w, r, "success", "API key regenerated")
}

// Toggle flips the reveal state of a key for this session.
// POST /keys/{id}/visibility
func (h *DashboardHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	k, err := h.keys.GetKey(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.redirectError(w, r, err)
		return
	}
	visible, err := h.visibility.Toggle(r.Context(), p.SessionID, k.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "toggle visibility failed", "error", err)
		h.redirect(w, r, "error", "Visibility state unavailable, try again later")
		return
	}
	if visible {
		h.redirect(w, r, "success", "API key is now visible")
		return
	}
	h.redirect(w, r, "success", "API key is now hidden")
}

// ConfirmDelete renders the delete confirmation step.
// GET /keys/{id}/delete
func (h *DashboardHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	k, err := h.keys.GetKey(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.redirectError(w, r, err)
		return
	}
	row := h.row(k, false)
	h.render(w, r, http.StatusOK, "confirm.html", page{Title: "Delete key", User: p, Key: &row})
}

// Delete permanently deletes a key once confirmed.
// POST /keys/{id}/delete
func (h *DashboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.DeleteKey(r.Context(), middleware.GetPrincipal(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.redirectError(w, r, err)
		return
	}
	h.redirect(w, r, "success", "API key deleted")
}

// SignOut ends the session and returns to the sign-in page.
// POST /signout
func (h *DashboardHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.auth.endSession(w, r)
	h.redirect(w, r, "success", "Signed out")
}

// formLimit parses the optional request_limit field. An empty field means
// "not supplied".
func (h *DashboardHandler) formLimit(w http.ResponseWriter, r *http.Request) (*int, bool) {
	if err := r.ParseForm(); err != nil {
		h.redirect(w, r, "error", "Invalid form submission")
		return nil, false
	}
	raw := strings.TrimSpace(r.PostFormValue("request_limit"))
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		h.redirect(w, r, "error", "Request limit must be a whole number")
		return nil, false
	}
	return &n, true
}

func (h *DashboardHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, pg page) {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, pg); err != nil {
		h.logger.ErrorContext(r.Context(), "render failed", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError is used where there is no page to redirect back to.
func (h *DashboardHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		h.logger.ErrorContext(r.Context(), "key store failure", "error", err, "path", r.URL.Path)
	}
	http.Error(w, flashMessage(err), status)
}

func (h *DashboardHandler) redirectError(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusServiceUnavailable {
		h.logger.ErrorContext(r.Context(), "key store failure", "error", err, "path", r.URL.Path)
	}
	h.redirect(w, r, "error", flashMessage(err))
}

func (h *DashboardHandler) redirect(w http.ResponseWriter, r *http.Request, kind, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(kind + ":" + message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// takeFlash reads and clears the pending flash message, if any.
func (h *DashboardHandler) takeFlash(w http.ResponseWriter, r *http.Request) *flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil
	}
	kind, msg, ok := strings.Cut(raw, ":")
	if !ok || (kind != "success" && kind != "error") {
		return nil
	}
	return &flash{Kind: kind, Message: msg}
}

func flashMessage(err error) string {
	switch statusFor(err) {
	case http.StatusUnauthorized:
		return "Sign in to manage API keys"
	case http.StatusBadRequest:
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return ve.Message
		}
		return err.Error()
	case http.StatusNotFound:
		return "API key not found"
	default:
		return "Key store unavailable, try again later"
	}
}
