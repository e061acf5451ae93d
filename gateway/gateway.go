// Package gateway exposes the HTTP boundary of the capability gateway:
// service registration and removal, registry inspection and the chat
// endpoint that drives the orchestrator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"goa.design/capgate/runtime/compiler"
	"goa.design/capgate/runtime/orchestrator"
	"goa.design/capgate/runtime/registry"
	"goa.design/capgate/runtime/telemetry"
)

type (
	// Chatter is the slice of the orchestrator the gateway depends on.
	Chatter interface {
		Chat(ctx context.Context, userMessage string) (orchestrator.Result, error)
	}

	// Config tunes the HTTP server.
	Config struct {
		Port            int
		Debug           bool
		BodyLimit       string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		AllowedOrigins  []string
	}

	// Server wires the registry and the orchestrator into an Echo server.
	Server struct {
		echo     *echo.Echo
		registry *registry.Registry
		chatter  Chatter
		fetch    *http.Client
		logger   telemetry.Logger
		config   Config
	}

	// RegisterRequest is the payload for POST /register-service. Exactly one
	// of OpenAPIDocument and OpenAPIURL must be set: the inline document wins
	// when both are present.
	RegisterRequest struct {
		Name            string `json:"name"`
		BaseURL         string `json:"base_url"`
		OpenAPIDocument string `json:"openapi_document,omitempty"`
		OpenAPIURL      string `json:"openapi_url,omitempty"`
	}

	// RegisterResponse reports the outcome of a registration.
	RegisterResponse struct {
		Service         string          `json:"service"`
		Capabilities    []string        `json:"capabilities"`
		Skipped         []compiler.Skip `json:"skipped,omitempty"`
		Replaced        bool            `json:"replaced"`
		SnapshotVersion uint64          `json:"snapshot_version"`
	}

	// ServiceInfo describes one registration in GET /services.
	ServiceInfo struct {
		Name         string    `json:"name"`
		BaseURL      string    `json:"base_url"`
		Capabilities []string  `json:"capabilities"`
		RegisteredAt time.Time `json:"registered_at"`
	}

	// ChatRequest is the payload for POST /chat.
	ChatRequest struct {
		Message string `json:"message"`
	}

	// ChatResponse is the chat outcome.
	ChatResponse struct {
		Response        string   `json:"response"`
		ToolsUsed       []string `json:"tools_used"`
		Iterations      int      `json:"iterations"`
		ForcedStop      bool     `json:"forced_stop,omitempty"`
		SnapshotVersion uint64   `json:"snapshot_version"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// DefaultConfig returns a server config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// New constructs the gateway server and mounts its routes.
func New(reg *registry.Registry, chatter Chatter, cfg Config, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Server{
		echo:     newEcho(cfg),
		registry: reg,
		chatter:  chatter,
		fetch:    &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
		config:   cfg,
	}
	s.routes()
	return s
}

func newEcho(cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Debug

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
			},
		}))
	}
	return e
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/register-service", s.handleRegister)
	s.echo.DELETE("/services/:name", s.handleDeregister)
	s.echo.GET("/services", s.handleServices)
	s.echo.POST("/chat", s.handleChat)
}

// Handler exposes the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the server until ctx is canceled, then shuts it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.config.Port)
		s.logger.Info(ctx, "gateway listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "healthy",
		"service":          "capgate",
		"services":         len(s.registry.Services()),
		"snapshot_version": s.registry.Active().Version,
	})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Name == "" || req.BaseURL == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "name and base_url are required"})
	}

	document := []byte(req.OpenAPIDocument)
	if len(document) == 0 {
		if req.OpenAPIURL == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "openapi_document or openapi_url is required"})
		}
		fetched, err := s.fetchDocument(c.Request().Context(), req.OpenAPIURL)
		if err != nil {
			s.logger.Warn(c.Request().Context(), "openapi fetch failed", "service", req.Name, "err", err.Error())
			return c.JSON(http.StatusBadGateway, errorResponse{Error: fmt.Sprintf("fetch openapi document: %v", err)})
		}
		document = fetched
	}

	doc, err := compiler.Parse(document)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	caps, skipped := compiler.Compile(doc, req.BaseURL)

	replaced := s.registry.Register(c.Request().Context(), req.Name, req.BaseURL, caps)

	names := make([]string, 0, len(caps))
	for _, cp := range caps {
		names = append(names, cp.Name)
	}
	return c.JSON(http.StatusOK, RegisterResponse{
		Service:         req.Name,
		Capabilities:    names,
		Skipped:         skipped,
		Replaced:        replaced,
		SnapshotVersion: s.registry.Active().Version,
	})
}

func (s *Server) fetchDocument(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Server) handleDeregister(c echo.Context) error {
	name := c.Param("name")
	if err := s.registry.Deregister(c.Request().Context(), name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("service %q is not registered", name)})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleServices(c echo.Context) error {
	regs := s.registry.Services()
	out := make([]ServiceInfo, 0, len(regs))
	for _, reg := range regs {
		names := make([]string, 0, len(reg.Capabilities))
		for _, cp := range reg.Capabilities {
			names = append(names, cp.Name)
		}
		out = append(out, ServiceInfo{
			Name:         reg.Name,
			BaseURL:      reg.BaseURL,
			Capabilities: names,
			RegisteredAt: reg.RegisteredAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "message is required"})
	}

	res, err := s.chatter.Chat(c.Request().Context(), req.Message)
	if err != nil {
		s.logger.Error(c.Request().Context(), "chat failed", "err", err.Error())
		return c.JSON(http.StatusBadGateway, errorResponse{Error: fmt.Sprintf("chat: %v", err)})
	}
	tools := res.ToolsUsed
	if tools == nil {
		// Encode as an empty list rather than null.
		tools = []string{}
	}
	return c.JSON(http.StatusOK, ChatResponse{
		Response:        res.Response,
		ToolsUsed:       tools,
		Iterations:      res.Iterations,
		ForcedStop:      res.ForcedStop,
		SnapshotVersion: res.SnapshotVersion,
	})
}
