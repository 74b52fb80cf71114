// Package api exposes the turn engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
	BodyLimit       string        `envconfig:"BODY_LIMIT" split_words:"true" default:"64K"`
}

type Server struct {
	echo    *echo.Echo
	handler contractx.TurnHandler
	cfg     Config
}

// TurnRequest is the body of POST /api/v1/threads/:thread_id/turns.
type TurnRequest struct {
	Message     string `json:"message"`
	CurrentDate string `json:"current_date,omitempty"`
}

type TurnResponse struct {
	ThreadID  string              `json:"thread_id"`
	TurnID    string              `json:"turn_id,omitempty"`
	Answer    string              `json:"answer"`
	Intent    contractx.Intent    `json:"intent,omitempty"`
	Cycles    int                 `json:"cycles"`
	ErrorCode contractx.ErrorCode `json:"error_code,omitempty"`
}

type ErrorResponse struct {
	Error     string              `json:"error"`
	ErrorCode contractx.ErrorCode `json:"error_code,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewServer(handler contractx.TurnHandler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("turn handler is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(requestLogger)

	s := &Server{echo: e, handler: handler, cfg: cfg}
	s.registerRoutes()
	return s, nil
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		log.Info().
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Int("status", c.Response().Status).
			Dur("duration", time.Since(start)).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("http request")
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/threads/:thread_id/turns", s.handleTurn)
	v1.POST("/threads/:thread_id/resume", s.handleResume)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", ErrorCode: contractx.CodeValidation})
	}

	out, err := s.handler.HandleTurn(c.Request().Context(), contractx.TurnInput{
		ThreadID:    c.Param("thread_id"),
		UserText:    req.Message,
		CurrentDate: req.CurrentDate,
	})
	return respond(c, out, err)
}

func (s *Server) handleResume(c echo.Context) error {
	out, err := s.handler.Resume(c.Request().Context(), c.Param("thread_id"))
	return respond(c, out, err)
}

// respond answers 200 whenever the turn produced a readable answer, even if it failed.
func respond(c echo.Context, out contractx.TurnOutput, err error) error {
	if err == nil || strings.TrimSpace(out.Answer) != "" {
		code := out.Code
		if code == "" && err != nil {
			code = contractx.CodeOf(err)
		}
		return c.JSON(http.StatusOK, TurnResponse{
			ThreadID:  out.ThreadID,
			TurnID:    out.TurnID,
			Answer:    out.Answer,
			Intent:    out.Intent,
			Cycles:    out.Cycles,
			ErrorCode: code,
		})
	}

	log.Warn().Err(err).Str("thread_id", c.Param("thread_id")).Msg("turn rejected")
	return c.JSON(statusOf(err), ErrorResponse{Error: err.Error(), ErrorCode: contractx.CodeOf(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, contractx.ErrThreadBusy):
		return http.StatusConflict
	case errors.Is(err, contractx.ErrValidation), errors.Is(err, contractx.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, contractx.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("starting http server")
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("shutting down http server")
	return s.echo.Shutdown(shutdownCtx)
}
