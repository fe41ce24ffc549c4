// ABOUTME: Operator login endpoint - verifies credentials and mints a JWT
// ABOUTME: Failures are uniform 401s; the handler never says which part was wrong

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openhelm/relaydesk/internal/auth"
)

func (s *Server) handleLogin(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	op, err := auth.Authenticate(c.Request().Context(), s.store, req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}

	token, err := s.verifier.Generate(op.ID, s.tokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"token": token,
		"operator": map[string]string{
			"id":       op.ID,
			"username": op.Username,
			"email":    op.Email,
		},
	})
}
