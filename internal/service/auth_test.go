package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/keyhub/internal/model"
)

const testJWTSecret = "test-secret-key-for-jwt"

func newTestSessions(t *testing.T) *SessionService {
	t.Helper()
	s, err := NewSessionService(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	sessions := newTestSessions(t)
	u := &model.User{ID: "user-42", Email: "dev@example.com", Name: "Dev"}

	token, issued, err := sessions.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	p, err := sessions.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.UserID != "user-42" {
		t.Errorf("UserID: got %q, want %q", p.UserID, "user-42")
	}
	if p.Email != "dev@example.com" || p.Name != "Dev" {
		t.Errorf("identity: got %+v", p)
	}
	if p.SessionID == "" || p.SessionID != issued.SessionID {
		t.Errorf("SessionID: got %q, want %q", p.SessionID, issued.SessionID)
	}
}

func TestSessionIDsAreDistinct(t *testing.T) {
	sessions := newTestSessions(t)
	u := &model.User{ID: "user-1"}

	_, a, _ := sessions.Issue(u)
	_, b, _ := sessions.Issue(u)
	if a.SessionID == b.SessionID {
		t.Error("two sign-ins share a session id")
	}
}

func TestSessionExpired(t *testing.T) {
	sessions := newTestSessions(t)

	token, _, err := sessions.IssueFor(&model.User{ID: "user-1"}, -time.Hour)
	if err != nil {
		t.Fatalf("IssueFor: %v", err)
	}
	_, err = sessions.Validate(token)
	if !errors.Is(err, model.ErrUnauthorized) || !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrUnauthorized wrapping ErrTokenExpired", err)
	}
}

func TestSessionInvalidToken(t *testing.T) {
	sessions := newTestSessions(t)

	for _, tok := range []string{"", "garbage.token.here"} {
		if _, err := sessions.Validate(tok); !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("Validate(%q): got %v, want ErrUnauthorized", tok, err)
		}
	}
}

func TestSessionWrongSecret(t *testing.T) {
	other, err := NewSessionService(strings.Repeat("x", 32), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	token, _, _ := other.Issue(&model.User{ID: "user-1"})

	if _, err := newTestSessions(t).Validate(token); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestSessionRejectsForeignIssuer(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ID:        "sess",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestSessions(t).Validate(token); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestNewSessionServiceValidation(t *testing.T) {
	if _, err := NewSessionService("short", time.Hour); err == nil {
		t.Error("expected error for short secret")
	}
	if _, err := NewSessionService(testJWTSecret, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}
