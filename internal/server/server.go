// Package server exposes the mail gateway over HTTP using gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/shineum/mail-gateway/docs"
	"github.com/shineum/mail-gateway/internal/config"
	"github.com/shineum/mail-gateway/internal/provider"
	"github.com/shineum/mail-gateway/internal/validator"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Options holds the dependencies of a Server. Config and Provider are
// required; the rest default from Config.
type Options struct {
	Config        *config.Config
	Provider      provider.Provider
	Logger        *slog.Logger
	Authenticator Authenticator
	RateLimiter   *RateLimiter

	// Now is used for health timestamps.
	Now func() time.Time
}

// Server is the HTTP front end: routing, middleware and handlers.
type Server struct {
	cfg      *config.Config
	provider provider.Provider
	logger   *slog.Logger
	auth     Authenticator
	limiter  *RateLimiter
	limits   validator.Limits
	prefix   string
	now      func() time.Time

	payloadSchema *jsonschema.Schema
	engine        *gin.Engine
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	cfg := opts.Config
	s := &Server{
		cfg:           cfg,
		provider:      opts.Provider,
		logger:        opts.Logger,
		auth:          opts.Authenticator,
		limiter:       opts.RateLimiter,
		limits:        validator.Limits{MaxPayloadBytes: cfg.Limits.MaxPayloadBytes},
		prefix:        normalizePrefix(cfg.Service.APIPrefix),
		now:           opts.Now,
		payloadSchema: newPayloadSchema(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.auth == nil {
		s.auth = NewHeaderAuthenticator(cfg.Service.APIKey)
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(cfg.Limits.RateLimitRequests, cfg.Limits.RateLimitWindow)
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(trimmed(s.cfg.Service.TrustedProxies)); err != nil {
		s.logger.Warn("invalid trusted proxy list, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(
		recovery(s.logger),
		requestID(),
		requestLogger(s.logger),
		cors.New(s.corsConfig()),
	)
	r.NoRoute(notFound)
	r.NoMethod(methodNotAllowed)

	docs.SwaggerInfo.BasePath = s.prefix
	if docs.SwaggerInfo.BasePath == "" {
		docs.SwaggerInfo.BasePath = "/"
	}

	r.GET("/", s.root)
	r.GET("/health", s.health)

	api := r.Group(s.prefix)
	if s.prefix != "" {
		api.GET("/health", s.health)
	}
	api.POST("/enviar-email",
		s.limiter.Middleware(s.logger),
		requireAPIKey(s.auth, s.logger),
		bodyLimit(s.cfg.Limits.MaxRequestBytes),
		s.send,
	)
	api.OPTIONS("/enviar-email", preflight)
	api.GET("/endpoints", s.endpoints)
	api.GET("/schema", s.schema)
	api.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

func (s *Server) corsConfig() cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", APIKeyHeader, RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	origins := make([]string, 0, len(s.cfg.Service.CORSOrigins))
	for _, o := range s.cfg.Service.CORSOrigins {
		switch o = strings.TrimSpace(o); {
		case o == "":
		case o == "*", strings.HasPrefix(o, "http://"), strings.HasPrefix(o, "https://"):
			origins = append(origins, o)
		default:
			s.logger.Warn("ignoring CORS origin without scheme", "origin", o)
		}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// ListenAndServe serves on the configured port until ctx is cancelled, then
// waits up to 30 seconds for in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Service.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	go s.limiter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			"addr", srv.Addr,
			"prefix", s.prefix,
			"provider", s.provider.Name(),
			"environment", s.cfg.Service.Environment,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timeout reached, forcing close", "error", err)
		return srv.Close()
	}
	s.logger.Info("all requests completed")
	return nil
}

// trimmed returns the non-empty entries of list with spaces removed, or nil.
func trimmed(list []string) []string {
	var out []string
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// normalizePrefix returns "" or a path starting with "/" and no trailing "/".
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
