package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/keyhub/internal/handler"
	"github.com/faucetdb/keyhub/internal/metrics"
	"github.com/faucetdb/keyhub/internal/openapi"
	"github.com/faucetdb/keyhub/internal/server/middleware"
	"github.com/faucetdb/keyhub/internal/service"
	"github.com/faucetdb/keyhub/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	EnableUI        bool
	MaxBodySize     int64 // bytes
	RateLimit       int   // API requests per RateWindow per client; 0 disables
	RateWindow      time.Duration
	CookieName      string
	SecureCookies   bool
	BaseURL         string
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		EnableUI:        true,
		MaxBodySize:     1 << 20, // 1MB
		RateLimit:       120,
		RateWindow:      time.Minute,
		CookieName:      "keyhub_session",
	}
}

// Services are the components the server routes requests to. Metrics may
// be nil.
type Services struct {
	Keys       *service.KeyService
	Sessions   *service.SessionService
	OAuth      *service.OAuthService
	Visibility service.VisibilityTracker
	Metrics    *metrics.Metrics
}

// Server is the top-level HTTP server for keyhub.
type Server struct {
	cfg        Config
	svc        Services
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, svc Services, logger *slog.Logger) (*Server, error) {
	if svc.Keys == nil || svc.Sessions == nil || svc.OAuth == nil || svc.Visibility == nil {
		return nil, errors.New("server: keys, sessions, oauth and visibility services are required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultConfig().CookieName
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRouter() error {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.svc.Metrics != nil {
		r.Use(s.svc.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !wildcardOrigin(s.cfg.CORSOrigins),
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	authn := middleware.Authenticate(s.svc.Sessions, s.cfg.CookieName)
	optional := middleware.OptionalSession(s.svc.Sessions, s.cfg.CookieName)
	bodyLimit := chimw.RequestSize(s.cfg.MaxBodySize)
	if s.cfg.MaxBodySize <= 0 {
		bodyLimit = func(next http.Handler) http.Handler { return next }
	}

	keyHandler := handler.NewKeyHandler(s.svc.Keys, s.svc.Visibility, s.svc.Metrics, s.logger)
	authHandler := handler.NewAuthHandler(s.svc.OAuth, s.svc.Sessions, s.svc.Visibility, handler.CookieConfig{
		Name:   s.cfg.CookieName,
		Secure: s.cfg.SecureCookies,
	}, s.logger)
	openAPIHandler := handler.NewOpenAPIHandler(openapi.Options{
		BaseURL:    s.cfg.BaseURL,
		Version:    s.cfg.Version,
		CookieName: s.cfg.CookieName,
	})

	// --- Health checks and metadata (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", openAPIHandler.ServeSpec)
	if s.svc.Metrics != nil {
		r.Handle("/metrics", s.svc.Metrics.Handler())
	}

	// --- OAuth sign-in ---
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.RateLimit, s.cfg.RateWindow))
		r.Get("/providers", authHandler.Providers)
		r.Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)
		r.Post("/signout", authHandler.SignOut)
	})

	// --- JSON API ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bodyLimit)
		r.Use(optional)
		r.Use(middleware.RateLimitBySession(s.cfg.RateLimit, s.cfg.RateWindow))
		r.Use(authn)

		r.Get("/me", authHandler.Me)
		r.Post("/mask", keyHandler.MaskKey)

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", keyHandler.ListKeys)
			r.Post("/", keyHandler.CreateKey)
			r.Get("/{id}", keyHandler.GetKey)
			r.Patch("/{id}", keyHandler.UpdateKey)
			r.Delete("/{id}", keyHandler.DeleteKey)
			r.Post("/{id}/regenerate", keyHandler.RegenerateKey)
			r.Post("/{id}/visibility", keyHandler.ToggleVisibility)
			r.Get("/{id}/secret", keyHandler.GetSecret)
		})
	})

	// --- Server-rendered dashboard ---
	if s.cfg.EnableUI {
		tmpl, err := ui.Templates()
		if err != nil {
			return fmt.Errorf("parse dashboard templates: %w", err)
		}
		dash := handler.NewDashboardHandler(s.svc.Keys, s.svc.Visibility, authHandler, s.svc.OAuth.Providers(), tmpl, s.logger)

		r.Handle("/static/*", http.StripPrefix("/static/", ui.Static()))
		r.Group(func(r chi.Router) {
			r.Use(bodyLimit)
			r.Use(optional)
			r.Get("/", dash.Index)
			r.Post("/signout", dash.SignOut)
			r.Route("/keys", func(r chi.Router) {
				r.Use(middleware.RateLimitBySession(s.cfg.RateLimit, s.cfg.RateWindow))
				r.Post("/", dash.Create)
				r.Post("/{id}/edit", dash.Edit)
				r.Post("/{id}/regenerate", dash.Regenerate)
				r.Post("/{id}/visibility", dash.Toggle)
				r.Get("/{id}/delete", dash.ConfirmDelete)
				r.Post("/{id}/delete", dash.Delete)
			})
		})
	}

	s.router = r
	return nil
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the key store answers
// a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}
	if err := s.svc.Keys.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		checks["store"] = "unavailable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// wildcardOrigin reports whether origins admits any origin. Credentialed
// CORS is only enabled for explicit origin lists.
func wildcardOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
