package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/server/middleware"
	"github.com/faucetdb/keyhub/internal/service"
)

const (
	oauthStateCookie = "keyhub_oauth"
	oauthStateTTL    = 10 * time.Minute
)

// CookieConfig controls how the session cookie is written.
type CookieConfig struct {
	Name   string
	Secure bool
}

// AuthHandler runs OAuth sign-in and manages the session cookie.
type AuthHandler struct {
	oauth      *service.OAuthService
	sessions   *service.SessionService
	visibility service.VisibilityTracker
	cookie     CookieConfig
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(oauth *service.OAuthService, sessions *service.SessionService, visibility service.VisibilityTracker, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		oauth:      oauth,
		sessions:   sessions,
		visibility: visibility,
		cookie:     cookie,
		logger:     logger,
	}
}

// Providers lists the enabled sign-in providers.
// GET /auth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": h.oauth.Providers()})
}

// Login redirects the browser to the provider's consent page. State and the
// PKCE verifier ride in a short-lived HttpOnly cookie.
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	req, err := h.oauth.Begin(provider)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    provider + "|" + req.State + "|" + req.Verifier,
		Path:     "/auth",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, req.URL, http.StatusTemporaryRedirect)
}

// Callback completes sign-in, starts a session and returns to the dashboard.
// GET /auth/{provider}/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	h.clearCookie(w, oauthStateCookie, "/auth")

	if e := r.URL.Query().Get("error"); e != "" {
		writeError(w, http.StatusUnauthorized, "Sign-in was cancelled: "+e)
		return
	}

	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Sign-in expired, start again")
		return
	}
	parts := strings.SplitN(c.Value, "|", 3)
	if len(parts) != 3 || parts[0] != provider || parts[1] == "" || parts[1] != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "Invalid state")
		return
	}

	user, err := h.oauth.Complete(r.Context(), provider, r.URL.Query().Get("code"), parts[2])
	if err != nil {
		h.logger.WarnContext(r.Context(), "sign-in failed", "provider", provider, "error", err)
		switch {
		case errors.Is(err, service.ErrUnknownProvider):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, model.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "Sign-in failed")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Sign-in unavailable, try again later")
		return
	}

	token, p, err := h.sessions.Issue(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to start session: "+err.Error())
		return
	}
	h.setSession(w, token)
	h.logger.InfoContext(r.Context(), "user signed in", "user_id", p.UserID, "provider", provider)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SignOut ends the session: the cookie is expired and the session's reveal
// state is dropped.
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Signed out",
	})
}

// Me returns the signed-in identity.
// GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *AuthHandler) endSession(w http.ResponseWriter, r *http.Request) {
	if tok := middleware.SessionToken(r, h.cookie.Name); tok != "" {
		if p, err := h.sessions.Validate(tok); err == nil {
			if err := h.visibility.Clear(r.Context(), p.SessionID); err != nil {
				h.logger.WarnContext(r.Context(), "clear visibility failed", "error", err)
			}
		}
	}
	h.clearCookie(w, h.cookie.Name, "/")
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
