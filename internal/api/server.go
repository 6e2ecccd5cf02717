// Package api is the HTTP surface of questweaver: campaign management, the
// tool endpoint, the MCP streamable transport and the operational routes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/questweaver/internal/auth"
	"github.com/MrWong99/questweaver/internal/campaign"
	"github.com/MrWong99/questweaver/internal/health"
	"github.com/MrWong99/questweaver/internal/mcp"
	"github.com/MrWong99/questweaver/internal/observe"
)

const shutdownTimeout = 10 * time.Second

// CustomValidator adapts go-playground/validator to echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements [echo.Validator].
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// Planner indexes planning notes for readiness assessment.
type Planner interface {
	IndexPlanningContext(ctx context.Context, campaignID, id, text string) error
}

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, such as ":8080".
	Addr string

	// MCPPath mounts the MCP streamable handler. Empty disables it.
	MCPPath string

	// BodyLimit caps request bodies, in echo notation. Default "2M".
	BodyLimit string

	// CORSOrigins lists allowed origins. Empty allows all.
	CORSOrigins []string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Deps holds the services behind the routes. Planning, MCP, Health and
// Metrics are optional.
type Deps struct {
	Campaigns *campaign.Service
	Tools     mcp.Host
	Auth      auth.Resolver
	Planning  Planner
	MCP       http.Handler
	Health    *health.Handler
	Metrics   *observe.Metrics
}

// Server is the echo application.
type Server struct {
	cfg  Config
	deps Deps
	e    *echo.Echo
}

// New builds the server and registers every route.
func New(cfg Config, deps Deps) *Server {
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "2M"
	}
	if deps.Health == nil {
		deps.Health = health.New()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(observe.Middleware(deps.Metrics))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.CORSOrigins}))
	} else {
		e.Use(middleware.CORS())
	}
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	s := &Server{cfg: cfg, deps: deps, e: e}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.deps.Health.Register(s.e)
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if s.deps.MCP != nil && s.cfg.MCPPath != "" {
		s.e.Any(s.cfg.MCPPath, echo.WrapHandler(s.deps.MCP))
	}

	g := s.e.Group("/api", s.authMiddleware)
	g.POST("/campaigns", s.createCampaign)
	g.GET("/campaigns", s.listCampaigns)
	g.GET("/campaigns/:id", s.getCampaign)
	g.PATCH("/campaigns/:id", s.updateCampaign)
	g.DELETE("/campaigns/:id", s.deleteCampaign)
	g.POST("/campaigns/:id/planning-context", s.indexPlanningContext)
	g.GET("/tools", s.listTools)
	g.POST("/tools/:name", s.callTool)
}

// ServeHTTP makes the server usable as an [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("api: listening", slog.String("addr", s.cfg.Addr))
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.e.StartTLS(s.cfg.Addr, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.e.Start(s.cfg.Addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(sctx); err != nil {
		return err
	}
	return <-errc
}
