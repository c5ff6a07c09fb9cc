// Package api serves the read-only HTTP view of the agent.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rewired-gh/neurotrader/internal/agent"
	"github.com/rewired-gh/neurotrader/internal/ledger"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Source is what the endpoints read from.
type Source interface {
	Status(ctx context.Context) (agent.Status, error)
	Report(ctx context.Context) (ledger.Report, error)
	Decisions(ctx context.Context, n int) ([]models.Decision, error)
	Trades(ctx context.Context, n int) ([]models.Decision, error)
	Patterns(ctx context.Context) ([]models.Pattern, error)
	Statistics(ctx context.Context) (models.Statistics, error)
}

// Server wraps the Echo instance.
type Server struct {
	echo   *echo.Echo
	source Source
	addr   string
}

// NewServer registers the routes. metrics may be nil.
func NewServer(addr string, source Source, metrics http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(recoverPanics())
	e.Use(requestLogging())

	s := &Server{echo: e, source: source, addr: addr}
	e.GET("/health", s.health)
	g := e.Group("/api")
	g.GET("/status", s.status)
	g.GET("/decisions", s.decisions)
	g.GET("/trades", s.trades)
	g.GET("/patterns", s.patterns)
	g.GET("/statistics", s.statistics)
	g.GET("/report", s.report)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		logger.Info("HTTP API listening on %s", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP API error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("HTTP API stopped")
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) status(c echo.Context) error {
	st, err := s.source.Status(c.Request().Context())
	if err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) decisions(c echo.Context) error {
	n, err := limit(c)
	if err != nil {
		return err
	}
	out, err := s.source.Decisions(c.Request().Context(), n)
	if err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusOK, nonNil(out))
}

func (s *Server) trades(c echo.Context) error {
	n, err := limit(c)
	if err != nil {
		return err
	}
	out, err := s.source.Trades(c.Request().Context(), n)
	if err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusOK, nonNil(out))
}

func (s *Server) patterns(c echo.Context) error {
	out, err := s.source.Patterns(c.Request().Context())
	if err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusOK, nonNil(out))
}

func (s *Server) statistics(c echo.Context) error {
	out, err := s.source.Statistics(c.Request().Context())
	if err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) report(c echo.Context) error {
	r, err := s.source.Report(c.Request().Context())
	if err != nil {
		return unavailable(err)
	}
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, r.String())
	}
	return c.JSON(http.StatusOK, r)
}

// limit parses ?limit=, defaulting to 50 and capping at 1000.
func limit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

func unavailable(err error) error {
	logger.Warn("API request failed: %v", err)
	return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
