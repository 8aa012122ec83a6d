package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatbridge/internal/config"
	"chatbridge/internal/gateway"
	"chatbridge/internal/metrics"
	"chatbridge/internal/models"
	"chatbridge/internal/tokens"
	"chatbridge/internal/translator"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 45 * time.Second
	idleTimeout         = 120 * time.Second
	streamBufferSize    = 32 * 1024
)

type Server struct {
	cfg     config.Config
	gateway *gateway.Gateway
	counter *tokens.Counter
	logger  *slog.Logger
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, gw *gateway.Gateway, counter *tokens.Counter, logger *slog.Logger) (*Server, error) {
	if gw == nil {
		return nil, errors.New("gateway must not be nil")
	}
	if counter == nil {
		return nil, errors.New("token counter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	srv := &Server{
		cfg:     cfg,
		gateway: gw,
		counter: counter,
		logger:  logger,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the configured echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/messages", s.handleMessages)
	s.app.POST("/v1/messages/count_tokens", s.handleCountTokens)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (s *Server) handleModels(c echo.Context) error {
	rules := s.gateway.Router().Rules()
	list := modelList{Object: "list", Data: make([]modelEntry, 0, len(rules))}
	for _, rule := range rules {
		list.Data = append(list.Data, modelEntry{ID: rule.Key, Object: "model", OwnedBy: rule.Route.Backend})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	return s.handleChat(c, models.SchemaOpenAI)
}

func (s *Server) handleMessages(c echo.Context) error {
	return s.handleChat(c, models.SchemaAnthropic)
}

func (s *Server) handleChat(c echo.Context, schema models.Schema) error {
	body, err := readRequestBody(c)
	if err != nil {
		return err
	}

	// Backend timeouts bound upstream calls, not the server write timeout.
	if err := http.NewResponseController(c.Response()).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}

	res, err := s.gateway.Handle(c.Request().Context(), schema, body)
	if err != nil {
		return err
	}

	if res.Stream != nil {
		return s.relayStream(c, res)
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(res.Status, contentType, res.Body)
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

func (s *Server) handleCountTokens(c echo.Context) error {
	body, err := readRequestBody(c)
	if err != nil {
		return err
	}

	req, err := translator.DecodeAnthropicRequest(body)
	if err != nil {
		return err
	}
	canonical, err := req.ToCanonical()
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, countTokensResponse{InputTokens: s.counter.CountRequest(canonical)})
}

// relayStream copies the upstream event stream to the client, flushing after
// every read. Client disconnects cancel the request context, which closes the
// upstream connection.
func (s *Server) relayStream(c echo.Context, res *gateway.Result) error {
	defer res.Stream.Close()

	metrics.StreamingConnections.Inc()
	defer metrics.StreamingConnections.Dec()

	rc := http.NewResponseController(c.Response())

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(res.Status)

	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := res.Stream.Read(buf)
		if n > 0 {
			if _, err := c.Response().Write(buf[:n]); err != nil {
				s.logger.Debug("client stopped reading stream", "backend", res.Route.Backend, "error", err)
				return nil
			}
			if err := rc.Flush(); err != nil {
				s.logger.Error("http writer does not support flushing", "error", err)
				return nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			if c.Request().Context().Err() != nil {
				s.logger.Debug("stream cancelled by client", "backend", res.Route.Backend)
			} else {
				s.logger.Warn("upstream stream interrupted", "backend", res.Route.Backend, "error", readErr)
			}
			return nil
		}
	}
}

func readRequestBody(c echo.Context) ([]byte, error) {
	req := c.Request()
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return nil, httpErr
		}
		return nil, &translator.ValidationError{Reason: fmt.Sprintf("read request body: %v", err)}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &translator.ValidationError{Reason: "request body is required"}
	}
	return body, nil
}
