// ABOUTME: Handoff REST endpoints - request, pending list, accept, operator message, takeover
// ABOUTME: Widget endpoints are open; everything else requires an operator token

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openhelm/relaydesk/internal/handoff"
)

type handoffResponse struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	AgentID        string  `json:"agent_id"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	RequestedAt    string  `json:"requested_at"`
	AcceptedAt     *string `json:"accepted_at"`
	AcceptedBy     string  `json:"accepted_by_operator_id,omitempty"`
	ResolvedAt     *string `json:"resolved_at"`
	CustomerName   string  `json:"customer_name,omitempty"`
	CustomerEmail  string  `json:"customer_email,omitempty"`
	LastMessage    string  `json:"last_message,omitempty"`
}

func toHandoffResponse(r *handoff.EnrichedRequest) handoffResponse {
	return handoffResponse{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		AgentID:        r.AgentID,
		Status:         r.Status,
		Reason:         r.Reason,
		RequestedAt:    fmtZ(r.RequestedAt),
		AcceptedAt:     fmtZPtr(r.AcceptedAt),
		AcceptedBy:     r.AcceptedBy,
		ResolvedAt:     fmtZPtr(r.ResolvedAt),
		CustomerName:   r.CustomerName,
		CustomerEmail:  r.CustomerEmail,
		LastMessage:    r.LastMessage,
	}
}

func (s *Server) handleCreateHandoff(c echo.Context) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Reason         string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil || req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id is required")
	}

	created, err := s.handoffs.CreateRequest(c.Request().Context(), req.ConversationID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toHandoffResponse(created))
}

func (s *Server) handlePendingHandoffs(c echo.Context) error {
	pending, err := s.handoffs.PendingRequests(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return httpError(err)
	}
	out := make([]handoffResponse, 0, len(pending))
	for _, r := range pending {
		out = append(out, toHandoffResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAcceptHandoff(c echo.Context) error {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := c.Bind(&req); err != nil || req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request_id is required")
	}

	accepted, err := s.handoffs.AcceptRequest(c.Request().Context(), req.RequestID, currentOperator(c).ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toHandoffResponse(accepted))
}

func (s *Server) handleOperatorMessage(c echo.Context) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := c.Bind(&req); err != nil || req.ConversationID == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id and content are required")
	}

	msg, err := s.handoffs.SendOperatorMessage(c.Request().Context(), req.ConversationID, currentOperator(c), req.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponse(msg))
}

func (s *Server) handleTakeOver(c echo.Context) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.Bind(&req); err != nil || req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id is required")
	}

	taken, err := s.handoffs.TakeOver(c.Request().Context(), req.ConversationID, currentOperator(c).ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toHandoffResponse(taken))
}

func (s *Server) handleResolveHandoff(c echo.Context) error {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := c.Bind(&req); err != nil || req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request_id is required")
	}

	resolved, err := s.handoffs.ResolveRequest(c.Request().Context(), req.RequestID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toHandoffResponse(&handoff.EnrichedRequest{HandoffRequest: resolved}))
}

func (s *Server) handleHandoffStatus(c echo.Context) error {
	st, err := s.handoffs.ConversationStatus(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return httpError(err)
	}

	resp := map[string]any{
		"response_authority":   st.ResponseAuthority,
		"assigned_operator_id": st.AssignedOperatorID,
	}
	if st.Request != nil {
		resp["handoff_request"] = toHandoffResponse(&handoff.EnrichedRequest{HandoffRequest: st.Request})
	}
	return c.JSON(http.StatusOK, resp)
}
