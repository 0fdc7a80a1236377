package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/store/memory"
)

// fakeProvider serves a token endpoint and a GitHub-shaped user endpoint.
func fakeProvider(t *testing.T, wantVerifier *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		if wantVerifier != nil && r.Form.Get("code_verifier") != *wantVerifier {
			t.Errorf("code_verifier = %q, want %q", r.Form.Get("code_verifier"), *wantVerifier)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-123",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    4242,
			"login": "octo",
			"email": "octo@example.com",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuth(t *testing.T, srv *httptest.Server) (*OAuthService, *memory.Store) {
	t.Helper()
	users := memory.New(secret.MustGenerator("", ""))
	svc, err := NewOAuthService(users, nil, ProviderConfig{
		Name:         ProviderGitHub,
		ClientID:     "client",
		ClientSecret: "shh",
		RedirectURL:  "http://localhost/auth/github/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/authorize",
			TokenURL: srv.URL + "/token",
		},
		UserInfoURL: srv.URL + "/user",
	})
	if err != nil {
		t.Fatalf("NewOAuthService: %v", err)
	}
	return svc, users
}

func TestOAuthBegin(t *testing.T) {
	srv := fakeProvider(t, nil)
	svc, _ := newTestOAuth(t, srv)

	req, err := svc.Begin(ProviderGitHub)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	q := u.Query()
	if q.Get("state") != req.State || req.State == "" {
		t.Errorf("state = %q, want %q", q.Get("state"), req.State)
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge in %s", req.URL)
	}
	if q.Get("client_id") != "client" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}

	if _, err := svc.Begin("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Begin(unknown): got %v, want ErrUnknownProvider", err)
	}
}

func TestOAuthComplete(t *testing.T) {
	var verifier string
	srv := fakeProvider(t, &verifier)
	svc, users := newTestOAuth(t, srv)
	ctx := context.Background()

	req, _ := svc.Begin(ProviderGitHub)
	verifier = req.Verifier

	u, err := svc.Complete(ctx, ProviderGitHub, "good-code", req.Verifier)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if u.ID == "" || u.Subject != "4242" || u.Email != "octo@example.com" || u.Name != "octo" {
		t.Errorf("user = %+v", u)
	}

	stored, err := users.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.Provider != ProviderGitHub {
		t.Errorf("provider = %q", stored.Provider)
	}

	// Signing in again maps to the same user.
	again, err := svc.Complete(ctx, ProviderGitHub, "good-code", req.Verifier)
	if err != nil {
		t.Fatalf("Complete(again): %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second sign-in id = %s, want %s", again.ID, u.ID)
	}
}

func TestOAuthCompleteFailures(t *testing.T) {
	srv := fakeProvider(t, nil)
	svc, _ := newTestOAuth(t, srv)
	ctx := context.Background()

	if _, err := svc.Complete(ctx, ProviderGitHub, "", "v"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("empty code: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Complete(ctx, ProviderGitHub, "bad-code", "v"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("bad code: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Complete(ctx, "nope", "good-code", "v"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("unknown provider: got %v, want ErrUnknownProvider", err)
	}
}

func TestNewOAuthServiceValidation(t *testing.T) {
	users := memory.New(secret.MustGenerator("", ""))
	if _, err := NewOAuthService(users, nil, ProviderConfig{Name: ProviderGoogle}); err == nil {
		t.Error("expected error for missing client credentials")
	}
	if _, err := NewOAuthService(users, nil, ProviderConfig{Name: "myspace", ClientID: "a", ClientSecret: "b"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("got %v, want ErrUnknownProvider", err)
	}

	svc, err := NewOAuthService(users, nil,
		ProviderConfig{Name: ProviderGoogle, ClientID: "a", ClientSecret: "b"},
		ProviderConfig{Name: ProviderGitHub, ClientID: "a", ClientSecret: "b"},
	)
	if err != nil {
		t.Fatalf("NewOAuthService: %v", err)
	}
	if got := svc.Providers(); len(got) != 2 || got[0] != ProviderGitHub || got[1] != ProviderGoogle {
		t.Errorf("Providers() = %v", got)
	}
}

func TestDecodeGoogleUser(t *testing.T) {
	id, err := decodeGoogleUser([]byte(`{"sub":"1077","email":"g@example.com","name":"G"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id.Subject != "1077" || id.Email != "g@example.com" || id.Name != "G" {
		t.Errorf("identity = %+v", id)
	}
}
