// ABOUTME: HTTP and websocket surface - echo routes for chat, handoff, auth, and metrics
// ABOUTME: Maps domain errors onto HTTP statuses; timestamps serialize as UTC with a Z suffix

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openhelm/relaydesk/internal/auth"
	"github.com/openhelm/relaydesk/internal/config"
	"github.com/openhelm/relaydesk/internal/handoff"
	"github.com/openhelm/relaydesk/internal/relay"
	"github.com/openhelm/relaydesk/internal/store"
)

// Server wires the HTTP surface to the chat services.
type Server struct {
	echo     *echo.Echo
	store    store.Store
	relay    *relay.Relay
	handoffs *handoff.Service
	verifier *auth.JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// New assembles the echo instance and registers all routes.
func New(cfg *config.Config, s store.Store, r *relay.Relay, h *handoff.Service, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Widgets embed on arbitrary origins
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:     e,
		store:    s,
		relay:    r,
		handoffs: h,
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		tokenTTL: cfg.Auth.TokenTTL,
		logger:   logger.With("component", "server"),
	}
	srv.registerRoutes(cfg)
	return srv
}

func (s *Server) registerRoutes(cfg *config.Config) {
	e := s.echo

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ws/:agent_id", s.handleWebSocket)

	api := e.Group("/api")
	api.POST("/auth/login", s.handleLogin)

	// Widget-facing, scoped by session or client id
	api.POST("/handoff/request", s.handleCreateHandoff)
	api.GET("/chat/:agent_id/conversations/by-session", s.handleConversationsBySession)
	api.GET("/chat/conversations/:conversation_id/messages", s.handleConversationMessages)
	api.POST("/chat/messages/:message_id/feedback", s.handleMessageFeedback)

	// Operator dashboard, JWT required
	op := api.Group("", s.operatorAuth)
	op.GET("/handoff/pending/:agent_id", s.handlePendingHandoffs)
	op.POST("/handoff/accept", s.handleAcceptHandoff)
	op.POST("/handoff/message", s.handleOperatorMessage)
	op.POST("/handoff/takeover", s.handleTakeOver)
	op.POST("/handoff/resolve", s.handleResolveHandoff)
	op.GET("/handoff/conversation/:conversation_id", s.handleHandoffStatus)
	op.GET("/chat/:agent_id/conversations", s.handleListConversations)
	op.PATCH("/chat/conversations/:conversation_id/status", s.handleConversationStatus)
	op.DELETE("/chat/:agent_id/conversations/cleanup", s.handleCleanupConversations)
	op.GET("/chat/:agent_id/analytics", s.handleAnalytics)
	op.GET("/chat/:agent_id/topics", s.handleTopics)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(promhttp.Handler()))
	}
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router, used by tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// operatorAuth validates the Bearer token and stashes the operator on
// the request context.
func (s *Server) operatorAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		operatorID, err := s.verifier.Verify(header[len(prefix):])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		op, err := s.store.GetOperator(c.Request().Context(), operatorID)
		if err != nil || !op.Active {
			return echo.NewHTTPError(http.StatusUnauthorized, "unknown operator")
		}
		c.Set("operator", op)
		return next(c)
	}
}

func currentOperator(c echo.Context) *store.Operator {
	op, _ := c.Get("operator").(*store.Operator)
	return op
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrStateConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrQuotaExhausted):
		return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
	// Both operator-message guards are permission failures: wrong
	// conversation state and wrong operator alike deny, not conflict.
	case errors.Is(err, handoff.ErrNotAssigned):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, handoff.ErrNotHumanMode):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrBadCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		return err
	}
}

// fmtZ serializes a timestamp as UTC ISO-8601 with a Z suffix.
func fmtZ(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtZPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtZ(*t)
	return &s
}
