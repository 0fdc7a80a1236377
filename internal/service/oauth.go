package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/faucetdb/keyhub/internal/metrics"
	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/store"
)

// Built-in sign-in providers.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

var ErrUnknownProvider = errors.New("unknown sign-in provider")

// ProviderConfig enables one OAuth provider. Endpoint and UserInfoURL
// default to the provider's public values when left empty.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
}

// identity is what a provider's userinfo endpoint tells us about the user.
type identity struct {
	Subject string
	Email   string
	Name    string
}

type provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	decode      func(body []byte) (identity, error)
}

// OAuthService runs the authorization-code flow with PKCE against the
// configured providers and turns a successful callback into a stored user.
type OAuthService struct {
	providers map[string]*provider
	users     store.UserStore
	metrics   *metrics.Metrics
}

// NewOAuthService builds the enabled providers. Unknown names are an error.
func NewOAuthService(users store.UserStore, m *metrics.Metrics, configs ...ProviderConfig) (*OAuthService, error) {
	s := &OAuthService{
		providers: make(map[string]*provider),
		users:     users,
		metrics:   m,
	}
	for _, c := range configs {
		p, err := newProvider(c)
		if err != nil {
			return nil, err
		}
		s.providers[c.Name] = p
	}
	return s, nil
}

func newProvider(c ProviderConfig) (*provider, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, fmt.Errorf("oauth provider %q: client id and secret are required", c.Name)
	}

	p := &provider{name: c.Name}
	endpoint, scopes := c.Endpoint, c.Scopes
	switch c.Name {
	case ProviderGoogle:
		if endpoint.AuthURL == "" {
			endpoint = endpoints.Google
		}
		if len(scopes) == 0 {
			scopes = []string{"openid", "email", "profile"}
		}
		p.userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
		p.decode = decodeGoogleUser
	case ProviderGitHub:
		if endpoint.AuthURL == "" {
			endpoint = endpoints.GitHub
		}
		if len(scopes) == 0 {
			scopes = []string{"read:user", "user:email"}
		}
		p.userInfoURL = "https://api.github.com/user"
		p.decode = decodeGitHubUser
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Name)
	}
	if c.UserInfoURL != "" {
		p.userInfoURL = c.UserInfoURL
	}

	p.config = &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
	return p, nil
}

// Providers returns the enabled provider names, sorted.
func (s *OAuthService) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthRequest is the state a caller must keep between redirecting the user
// to the provider and handling the callback.
type AuthRequest struct {
	URL      string
	State    string
	Verifier string
}

// Begin returns the provider redirect for a new sign-in attempt.
func (s *OAuthService) Begin(providerName string) (*AuthRequest, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()
	return &AuthRequest{
		URL:      p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)),
		State:    state,
		Verifier: verifier,
	}, nil
}

// Complete exchanges the authorization code, reads the provider's view of
// the user and upserts it into the user store.
func (s *OAuthService) Complete(ctx context.Context, providerName, code, verifier string) (u *model.User, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.SignIns.WithLabelValues(providerName, signInOutcome(err)).Inc()
		}
	}()

	p, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", model.ErrUnauthorized)
	}

	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %v", model.ErrUnauthorized, err)
	}

	id, err := p.fetchIdentity(ctx, tok)
	if err != nil {
		return nil, err
	}

	u = &model.User{
		Provider: p.name,
		Subject:  id.Subject,
		Email:    id.Email,
		Name:     id.Name,
	}
	if err := s.users.UpsertUser(ctx, u); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	return u, nil
}

func (p *provider) fetchIdentity(ctx context.Context, tok *oauth2.Token) (identity, error) {
	client := p.config.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return identity{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return identity{}, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return identity{}, fmt.Errorf("read user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return identity{}, fmt.Errorf("%w: user info returned %d", model.ErrUnauthorized, resp.StatusCode)
	}

	id, err := p.decode(body)
	if err != nil {
		return identity{}, fmt.Errorf("decode user info: %w", err)
	}
	if id.Subject == "" {
		return identity{}, fmt.Errorf("%w: provider returned no user id", model.ErrUnauthorized)
	}
	return id, nil
}

func decodeGoogleUser(body []byte) (identity, error) {
	var u struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return identity{}, err
	}
	return identity{Subject: u.Sub, Email: u.Email, Name: u.Name}, nil
}

func decodeGitHubUser(body []byte) (identity, error) {
	var u struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return identity{}, err
	}
	id := identity{Email: u.Email, Name: u.Name}
	if u.ID != 0 {
		id.Subject = strconv.FormatInt(u.ID, 10)
	}
	if id.Name == "" {
		id.Name = u.Login
	}
	return id, nil
}

func signInOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, model.ErrUnauthorized) {
		return "denied"
	}
	return "error"
}
