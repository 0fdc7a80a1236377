package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keyhub/internal/config"
	"github.com/faucetdb/keyhub/internal/metrics"
	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/server"
	"github.com/faucetdb/keyhub/internal/service"
	"github.com/faucetdb/keyhub/internal/store"
)

// devUserEmail identifies the local user that development mode signs in
// when the JWT secret is generated.
const devUserEmail = "dev@localhost"

const banner = `
 _  __          _           _
| |/ /___ _   _| |__  _   _| |__
| ' // _ \ | | | '_ \| | | | '_ \
| . \  __/ |_| | | | | |_| | |_) |
|_|\_\___|\__, |_| |_|\__,_|_.__/
          |___/
`

func newServeCmd() *cobra.Command {
	var (
		noUI      bool
		dev       bool
		ephemeral bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keyhub HTTP server",
		Long: `Start the HTTP server that serves the key API, the dashboard, OAuth sign-in,
metrics and the OpenAPI document.

With --dev and no auth.jwt_secret, a throwaway secret is generated and a
session token for a local developer user is printed at startup. Tokens from
'keyhub session issue' are only accepted when the server shares its
auth.jwt_secret.`,
		Example: `  keyhub serve
  keyhub serve --dev --ephemeral   # in-memory store, debug logging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, noUI, dev, ephemeral)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&noUI, "no-ui", false, "Disable the dashboard")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, generated JWT secret)")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep keys and users in memory only")

	v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	v.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(cmd *cobra.Command, noUI, dev, ephemeral bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser := newLogger(cfg.Logging, dev)
	defer logCloser.Close()
	ctx := cmd.Context()

	// 1. Record store
	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, gen, ephemeral)
	if err != nil {
		return err
	}
	defer st.Close()
	if ephemeral {
		logger.Warn("ephemeral store: keys and users are lost on exit")
	} else {
		logger.Info("key store opened", "driver", cfg.Store.Driver)
	}

	// 2. Sessions
	jwtSecret, generated, err := sessionSecret(cfg, dev, logger)
	if err != nil {
		return err
	}
	sessions, err := service.NewSessionService(jwtSecret, cfg.SessionTTL())
	if err != nil {
		return err
	}
	var devUser *model.User
	var devToken string
	if generated {
		devUser, devToken, err = issueDevSession(ctx, st, sessions)
		if err != nil {
			return err
		}
	}

	// 3. Visibility tracker
	var visibility service.VisibilityTracker
	switch cfg.Sessions.Visibility {
	case "redis":
		rv, err := service.NewRedisVisibility(ctx, cfg.Sessions.RedisURL, cfg.SessionTTL())
		if err != nil {
			return fmt.Errorf("visibility: %w", err)
		}
		visibility = rv
	default:
		visibility = service.NewMemoryVisibility(cfg.SessionTTL())
	}
	defer visibility.Close()

	// 4. Sign-in providers and key lifecycle
	m := metrics.New()
	oauth, err := service.NewOAuthService(st, m, providerConfigs(cfg)...)
	if err != nil {
		return err
	}
	if len(oauth.Providers()) == 0 {
		logger.Warn("no sign-in providers configured; set auth.google or auth.github credentials")
	}
	keys := keyServiceFor(cfg, st, logger, service.WithMetrics(m))

	// 5. HTTP server
	srvCfg := server.Config{
		Host:            v.GetString("server.host"),
		Port:            v.GetInt("server.port"),
		ShutdownTimeout: cfg.ShutdownTimeout(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		EnableUI:        cfg.Server.UI && !noUI,
		MaxBodySize:     cfg.Server.MaxBodyBytes,
		RateLimit:       cfg.Server.RateLimit.Requests,
		RateWindow:      cfg.RateLimitWindow(),
		CookieName:      cfg.Auth.CookieName,
		SecureCookies:   cfg.Auth.SecureCookies,
		BaseURL:         cfg.Auth.BaseURL,
		Version:         versionString(),
	}
	srv, err := server.New(srvCfg, server.Services{
		Keys:       keys,
		Sessions:   sessions,
		OAuth:      oauth,
		Visibility: visibility,
		Metrics:    m,
	}, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, banner)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "→ keyhub %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	if srvCfg.EnableUI {
		fmt.Fprintf(out, "→ Dashboard:  %s/\n", strings.TrimRight(cfg.Auth.BaseURL, "/"))
	}
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Fprintf(out, "→ Sign-in:    %s\n", strings.Join(oauth.Providers(), ", "))
	if devToken != "" {
		fmt.Fprintf(out, "→ Dev user:   %s (%s)\n", devUser.ID, devUser.Email)
		fmt.Fprintf(out, "→ Dev token:  %s\n", devToken)
	}
	fmt.Fprintln(out)

	return srv.ListenAndServe(ctx)
}

// sessionSecret returns the configured JWT secret. Development mode
// generates a throwaway one, which signs everyone out on restart; generated
// reports that case.
func sessionSecret(cfg *config.YAMLConfig, dev bool, logger *slog.Logger) (s string, generated bool, err error) {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret, false, nil
	}
	if !dev {
		return "", false, fmt.Errorf("auth.jwt_secret is required (set KEYHUB_AUTH_JWT_SECRET, or use --dev)")
	}
	s, err = secret.MustGenerator("dev", "").Generate()
	if err != nil {
		return "", false, err
	}
	logger.Warn("using a generated JWT secret; sessions end when the server restarts, and tokens from 'keyhub session issue' are rejected")
	return s, true, nil
}

// issueDevSession upserts the local developer user and signs a session token
// for it with the server's own session service.
func issueDevSession(ctx context.Context, users store.UserStore, sessions *service.SessionService) (*model.User, string, error) {
	u := &model.User{Provider: localProvider, Subject: devUserEmail, Email: devUserEmail, Name: "Developer"}
	if err := users.UpsertUser(ctx, u); err != nil {
		return nil, "", fmt.Errorf("save dev user: %w", err)
	}
	token, _, err := sessions.Issue(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// providerConfigs turns the enabled auth providers into OAuth configs with
// callback URLs under auth.base_url.
func providerConfigs(cfg *config.YAMLConfig) []service.ProviderConfig {
	base := strings.TrimRight(cfg.Auth.BaseURL, "/")
	var out []service.ProviderConfig
	for name, p := range map[string]config.ProviderConfig{
		service.ProviderGoogle: cfg.Auth.Google,
		service.ProviderGitHub: cfg.Auth.GitHub,
	} {
		if !p.Enabled() {
			continue
		}
		out = append(out, service.ProviderConfig{
			Name:         name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  base + "/auth/" + name + "/callback",
		})
	}
	return out
}
