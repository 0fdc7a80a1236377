package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// page fetches the dashboard, replaying any flash cookie from a previous
// redirect.
func (e *testEnv) page(t *testing.T, token, path string, prev *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	}
	if prev != nil {
		if c := findCookie(prev, flashCookie); c != nil {
			req.AddCookie(c)
		}
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func assertRedirectHome(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	assertStatus(t, rr, http.StatusSeeOther)
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestDashboardSignIn(t *testing.T) {
	env := newTestEnv(t)
	rr := env.page(t, "", "/", nil)
	assertStatus(t, rr, http.StatusOK)

	body := rr.Body.String()
	if !strings.Contains(body, "Sign in") || !strings.Contains(body, "/auth/github/login") {
		t.Errorf("sign-in page missing provider link:\n%s", body)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDashboardCreateAndList(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")

	rr := env.doForm(t, tok, "/keys", url.Values{"name": {"development"}, "request_limit": {""}})
	assertRedirectHome(t, rr)

	page := env.page(t, tok, "/", rr)
	assertStatus(t, page, http.StatusOK)
	body := page.Body.String()
	if !strings.Contains(body, "API key development created") {
		t.Errorf("missing toast:\n%s", body)
	}
	if !strings.Contains(body, "keyhub-"+strings.Repeat("•", 32)) {
		t.Errorf("missing masked secret:\n%s", body)
	}

	keys, _ := env.keys.ListKeys(context.Background(), mustValidate(t, env, tok))
	if len(keys) != 1 || keys[0].RequestLimit != env.keys.DefaultLimit() {
		t.Fatalf("keys = %+v", keys)
	}
	if strings.Contains(body, keys[0].Secret) {
		t.Error("raw secret rendered while hidden")
	}

	// The toast shows once.
	again := env.page(t, tok, "/", nil)
	if strings.Contains(again.Body.String(), "toast") {
		t.Error("flash rendered twice")
	}
}

func TestDashboardValidationFlash(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")

	rr := env.doForm(t, tok, "/keys", url.Values{"name": {"  "}})
	assertRedirectHome(t, rr)
	page := env.page(t, tok, "/", rr)
	if !strings.Contains(page.Body.String(), "toast-error") {
		t.Errorf("expected error toast:\n%s", page.Body.String())
	}

	rr = env.doForm(t, tok, "/keys", url.Values{"name": {"a"}, "request_limit": {"lots"}})
	assertRedirectHome(t, rr)
	page = env.page(t, tok, "/", rr)
	if !strings.Contains(page.Body.String(), "whole number") {
		t.Errorf("expected limit error:\n%s", page.Body.String())
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doForm(t, "", "/keys", url.Values{"name": {"x"}})
	assertRedirectHome(t, rr)
	page := env.page(t, "", "/", rr)
	if !strings.Contains(page.Body.String(), "Sign in to manage API keys") {
		t.Errorf("expected sign-in toast:\n%s", page.Body.String())
	}
}

func TestDashboardToggleEditDelete(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")
	k := env.createKey(t, tok, "development")

	rr := env.doForm(t, tok, "/keys/"+k.ID+"/visibility", nil)
	assertRedirectHome(t, rr)
	page := env.page(t, tok, "/", rr)
	body := page.Body.String()
	if !strings.Contains(body, "API key is now visible") || !strings.Contains(body, k.Key) {
		t.Errorf("reveal not rendered:\n%s", body)
	}

	rr = env.doForm(t, tok, "/keys/"+k.ID+"/edit", url.Values{"name": {"dev-2"}, "request_limit": {"50"}})
	assertRedirectHome(t, rr)
	got, err := env.keys.GetKey(context.Background(), mustValidate(t, env, tok), k.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.Name != "dev-2" || got.RequestLimit != 50 {
		t.Errorf("edited = %+v", got)
	}

	confirm := env.page(t, tok, "/keys/"+k.ID+"/delete", nil)
	assertStatus(t, confirm, http.StatusOK)
	if !strings.Contains(confirm.Body.String(), "dev-2") || !strings.Contains(confirm.Body.String(), "cannot be undone") {
		t.Errorf("confirm page:\n%s", confirm.Body.String())
	}
	if strings.Contains(confirm.Body.String(), k.Key) {
		t.Error("confirm page shows raw secret")
	}

	rr = env.doForm(t, tok, "/keys/"+k.ID+"/delete", nil)
	assertRedirectHome(t, rr)
	keys, _ := env.keys.ListKeys(context.Background(), mustValidate(t, env, tok))
	if len(keys) != 0 {
		t.Errorf("key not deleted: %+v", keys)
	}

	rr = env.doForm(t, tok, "/keys/"+k.ID+"/delete", nil)
	page = env.page(t, tok, "/", rr)
	if !strings.Contains(page.Body.String(), "API key not found") {
		t.Errorf("expected not-found toast:\n%s", page.Body.String())
	}
}

func TestDashboardRegenerateReveals(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")
	k := env.createKey(t, tok, "development")

	rr := env.doForm(t, tok, "/keys/"+k.ID+"/regenerate", nil)
	assertRedirectHome(t, rr)

	got, err := env.keys.GetKey(context.Background(), mustValidate(t, env, tok), k.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.Secret == k.Key {
		t.Fatal("secret not replaced")
	}
	page := env.page(t, tok, "/", rr)
	if !strings.Contains(page.Body.String(), got.Secret) {
		t.Errorf("new secret not revealed:\n%s", page.Body.String())
	}
}

func TestDashboardSignOut(t *testing.T) {
	env := newTestEnv(t)
	tok := env.signIn(t, "alice")

	rr := env.doForm(t, tok, "/signout", nil)
	assertRedirectHome(t, rr)
	if c := findCookie(rr, testCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie not expired: %+v", c)
	}
}
