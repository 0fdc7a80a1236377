package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/faucetdb/keyhub/internal/model"
)

const sessionIssuer = "keyhub"

// minSecretLength is the shortest HMAC secret accepted for session tokens.
const minSecretLength = 16

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
)

// SessionService issues and validates signed session tokens. A token carries
// the user id, display identity and a session id that scopes ephemeral
// per-session state.
type SessionService struct {
	jwtSecret []byte
	ttl       time.Duration
}

// NewSessionService returns a SessionService signing with jwtSecret.
func NewSessionService(jwtSecret string, ttl time.Duration) (*SessionService, error) {
	if len(jwtSecret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &SessionService{jwtSecret: []byte(jwtSecret), ttl: ttl}, nil
}

// TTL returns the lifetime of issued sessions.
func (s *SessionService) TTL() time.Duration { return s.ttl }

// Issue starts a new session for u and returns its signed token.
func (s *SessionService) Issue(u *model.User) (string, *model.Principal, error) {
	return s.IssueFor(u, s.ttl)
}

// IssueFor is Issue with an explicit lifetime, used for CLI-issued tokens.
func (s *SessionService) IssueFor(u *model.User, ttl time.Duration) (string, *model.Principal, error) {
	if u == nil || u.ID == "" {
		return "", nil, errors.New("issue session: user id is required")
	}
	now := time.Now()
	sessionID := uuid.Must(uuid.NewV7()).String()
	claims := sessionClaims{
		Email: u.Email,
		Name:  u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    sessionIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	return signed, &model.Principal{
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		SessionID: sessionID,
	}, nil
}

// Validate verifies a session token. Every failure wraps
// model.ErrUnauthorized.
func (s *SessionService) Validate(tokenStr string) (*model.Principal, error) {
	if tokenStr == "" {
		return nil, model.ErrUnauthorized
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %w", model.ErrUnauthorized, ErrTokenExpired)
	}
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %w", model.ErrUnauthorized, ErrInvalidCredentials)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: %w", model.ErrUnauthorized, ErrInvalidCredentials)
	}

	return &model.Principal{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		SessionID: claims.ID,
	}, nil
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
