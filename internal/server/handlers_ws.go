// ABOUTME: Websocket upgrade endpoint for chat widgets and dashboard listeners
// ABOUTME: Upgrades, wraps the socket for safe concurrent writes, and hands it to the relay

package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// upgrader allows all origins; widgets embed on customer sites
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	agentID := c.Param("agent_id")
	sessionID := c.QueryParam("session_id")
	clientID := c.QueryParam("client_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	ws := newWSClient(conn)
	defer ws.Close()
	s.relay.Serve(c.Request().Context(), ws, agentID, sessionID, clientID)
	return nil
}
