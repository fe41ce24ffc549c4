// ABOUTME: Conversation and message REST endpoints - listings, history, feedback, analytics
// ABOUTME: Widget history access is scoped by session or client id; dashboards use operator tokens

package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openhelm/relaydesk/internal/store"
)

type messageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Feedback       string `json:"feedback,omitempty"`
	Topic          string `json:"topic,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Body,
		Feedback:       m.Feedback,
		Topic:          m.Topic,
		CreatedAt:      fmtZ(m.CreatedAt),
	}
}

type conversationResponse struct {
	ID                  string `json:"id"`
	AgentID             string `json:"agent_id"`
	SessionID           string `json:"session_id"`
	ClientID            string `json:"client_id,omitempty"`
	CustomerName        string `json:"customer_name,omitempty"`
	CustomerEmail       string `json:"customer_email,omitempty"`
	CustomerPhone       string `json:"customer_phone,omitempty"`
	Status              string `json:"status"`
	ResponseAuthority   string `json:"response_authority"`
	AssignedOperatorID  string `json:"assigned_operator_id,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
	LastMessage         string `json:"last_message,omitempty"`
	LastCustomerMessage string `json:"last_customer_message,omitempty"`
}

func (s *Server) toConversationResponse(c echo.Context, conv *store.Conversation) conversationResponse {
	resp := conversationResponse{
		ID:                 conv.ID,
		AgentID:            conv.AgentID,
		SessionID:          conv.SessionID,
		ClientID:           conv.ClientID,
		CustomerName:       conv.CustomerName,
		CustomerEmail:      conv.CustomerEmail,
		CustomerPhone:      conv.CustomerPhone,
		Status:             conv.Status,
		ResponseAuthority:  conv.ResponseAuthority,
		AssignedOperatorID: conv.AssignedOperatorID,
		CreatedAt:          fmtZ(conv.CreatedAt),
		UpdatedAt:          fmtZ(conv.UpdatedAt),
	}
	ctx := c.Request().Context()
	if last, err := s.store.LastMessage(ctx, conv.ID); err == nil {
		resp.LastMessage = last.Body
	}
	if last, err := s.store.LastMessageByRole(ctx, conv.ID, store.RoleCustomer); err == nil {
		resp.LastCustomerMessage = last.Body
	}
	return resp
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s *Server) listConversations(c echo.Context, params store.ListConversationsParams) error {
	convs, total, err := s.store.ListConversations(c.Request().Context(), params)
	if err != nil {
		return httpError(err)
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, s.toConversationResponse(c, conv))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversations": out,
		"total":         total,
		"has_more":      params.Offset+len(convs) < total,
	})
}

func (s *Server) handleListConversations(c echo.Context) error {
	return s.listConversations(c, store.ListConversationsParams{
		AgentID: c.Param("agent_id"),
		Status:  c.QueryParam("status"),
		Limit:   queryInt(c, "limit", 20),
		Offset:  queryInt(c, "offset", 0),
	})
}

// handleConversationsBySession serves the widget's own history. A
// client id groups a return visitor's conversations; a session id is
// the narrower fallback.
func (s *Server) handleConversationsBySession(c echo.Context) error {
	params := store.ListConversationsParams{
		AgentID: c.Param("agent_id"),
		Status:  c.QueryParam("status"),
		Limit:   queryInt(c, "limit", 50),
		Offset:  queryInt(c, "offset", 0),
	}
	if clientID := c.QueryParam("client_id"); clientID != "" {
		params.ClientID = clientID
	} else if sessionID := c.QueryParam("session_id"); sessionID != "" {
		params.SessionID = sessionID
	} else {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id or session_id is required")
	}
	return s.listConversations(c, params)
}

// handleConversationMessages returns history for one conversation.
// Widgets authenticate with the owning session id; dashboards with an
// operator token.
func (s *Server) handleConversationMessages(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := s.store.GetConversation(ctx, c.Param("conversation_id"))
	if err != nil {
		return httpError(err)
	}

	if sessionID := c.QueryParam("session_id"); sessionID != "" {
		if conv.SessionID != sessionID {
			return echo.NewHTTPError(http.StatusForbidden, "session_id mismatch")
		}
	} else {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(header) <= len(prefix) {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication or session_id required")
		}
		if _, err := s.verifier.Verify(header[len(prefix):]); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
	}

	msgs, err := s.store.ListMessages(ctx, conv.ID, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return httpError(err)
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleConversationStatus(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Status != store.ConversationActive && req.Status != store.ConversationArchived {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be active or archived")
	}

	if err := s.store.UpdateConversationStatus(c.Request().Context(), c.Param("conversation_id"), req.Status); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

// handleMessageFeedback records thumbs up/down on an assistant reply.
// Feedback is set-once: repeats return the stored value unchanged.
func (s *Server) handleMessageFeedback(c echo.Context) error {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Feedback != store.FeedbackPositive && req.Feedback != store.FeedbackNegative {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback must be positive or negative")
	}

	ctx := c.Request().Context()
	msg, err := s.store.GetMessage(ctx, c.Param("message_id"))
	if err != nil {
		return httpError(err)
	}
	if msg.Role != store.RoleAssistant {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback can only be submitted for assistant messages")
	}

	updated, err := s.store.SetMessageFeedback(ctx, msg.ID, req.Feedback)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toMessageResponse(updated))
}

func (s *Server) handleCleanupConversations(c echo.Context) error {
	n, err := s.store.DeleteEmptyConversations(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return httpError(err)
	}
	s.logger.Info("empty conversations deleted", "agent_id", c.Param("agent_id"), "count", n)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAnalytics(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.store.GetAgent(ctx, c.Param("agent_id")); err != nil {
		return httpError(err)
	}
	a, err := s.store.AgentAnalytics(ctx, c.Param("agent_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{
		"total_conversations": a.TotalConversations,
		"total_messages":      a.TotalMessages,
		"total_thumbs_up":     a.PositiveFeedback,
		"total_thumbs_down":   a.NegativeFeedback,
	})
}

func (s *Server) handleTopics(c echo.Context) error {
	stats, err := s.store.ListTopicStats(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return httpError(err)
	}
	type topicEntry struct {
		Topic        string `json:"topic"`
		MessageCount int    `json:"message_count"`
		UpdatedAt    string `json:"updated_at"`
	}
	out := make([]topicEntry, 0, len(stats))
	for _, st := range stats {
		out = append(out, topicEntry{Topic: st.Topic, MessageCount: st.MessageCount, UpdatedAt: fmtZ(st.UpdatedAt)})
	}
	return c.JSON(http.StatusOK, map[string]any{"topics": out})
}
