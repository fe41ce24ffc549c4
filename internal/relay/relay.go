// ABOUTME: Per-connection websocket relay - the message loop that routes customer chat
// ABOUTME: Consults response authority on every message; errors go to the client as frames, never as closes

package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openhelm/relaydesk/internal/handoff"
	"github.com/openhelm/relaydesk/internal/metrics"
	"github.com/openhelm/relaydesk/internal/registry"
	"github.com/openhelm/relaydesk/internal/responder"
	"github.com/openhelm/relaydesk/internal/store"
)

// Conn is a bidirectional JSON websocket as the relay sees it.
type Conn interface {
	registry.Conn
	ReadJSON(v any) error
}

// Registry is the connection registry surface the relay needs.
type Registry interface {
	Register(sessionID, agentID string, conn registry.Conn)
	Unregister(conn registry.Conn)
	SendToSession(sessionID string, v any) int
	BroadcastToAgent(agentID string, v any) int
}

// HandoffCreator opens handoff requests; errors are logged, the chat
// flow continues either way. *handoff.Service satisfies it.
type HandoffCreator interface {
	CreateRequest(ctx context.Context, conversationID, reason string) (*handoff.EnrichedRequest, error)
}

// DetailScanner extracts customer identity in the background.
type DetailScanner interface {
	ScanAsync(conv *store.Conversation, messageText string)
}

// TopicQueue schedules messages for background topic labeling.
type TopicQueue interface {
	Enqueue(agentID, messageID, text string)
}

// inboundFrame is what widgets send.
type inboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Relay owns the chat message loop for widget and dashboard sockets.
type Relay struct {
	store      store.Store
	registry   Registry
	generator  responder.Generator
	classifier responder.Classifier
	handoffs   HandoffCreator
	details    DetailScanner
	topics     TopicQueue
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Relay. details and topics may be nil.
func New(s store.Store, reg Registry, gen responder.Generator, cls responder.Classifier, h HandoffCreator, d DetailScanner, tq TopicQueue, logger *slog.Logger) *Relay {
	return &Relay{
		store:      s,
		registry:   reg,
		generator:  gen,
		classifier: cls,
		handoffs:   h,
		details:    d,
		topics:     tq,
		logger:     logger.With("component", "relay"),
		now:        time.Now,
	}
}

// session is the per-connection state of one serve loop.
type session struct {
	conn      Conn
	agentID   string
	sessionID string
	clientID  string
	conv      *store.Conversation
}

// Serve runs the message loop for one websocket until it disconnects.
// The conversation is created lazily on the first non-empty message.
func (r *Relay) Serve(ctx context.Context, conn Conn, agentID, sessionID, clientID string) {
	// The agent gate comes first; a rejected socket must never join the
	// session-group fan-out.
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		conn.WriteJSON(errorFrame("Agent not found"))
		conn.Close()
		return
	}
	if !agent.Active {
		conn.WriteJSON(errorFrame("Agent is not active"))
		conn.Close()
		return
	}

	r.registry.Register(sessionID, agentID, conn)
	dashboard := registry.IsDashboardSession(sessionID)
	if dashboard {
		metrics.DashboardConnections.Inc()
	} else {
		metrics.WidgetConnections.Inc()
	}
	defer func() {
		r.registry.Unregister(conn)
		if dashboard {
			metrics.DashboardConnections.Dec()
		} else {
			metrics.WidgetConnections.Dec()
		}
	}()

	if err := conn.WriteJSON(map[string]any{
		"type":   "connection",
		"status": "connected",
	}); err != nil {
		return
	}

	if dashboard {
		// Dashboards only listen; inbound frames are drained and dropped
		r.logger.Info("dashboard listener connected", "session_id", sessionID, "agent_id", agentID)
		for {
			var discard map[string]any
			if err := conn.ReadJSON(&discard); err != nil {
				return
			}
		}
	}

	sess := &session{
		conn:      conn,
		agentID:   agentID,
		sessionID: sessionID,
		clientID:  clientID,
	}
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			r.logger.Debug("connection closed", "session_id", sessionID, "error", err)
			return
		}

		switch frame.Type {
		case "ping":
			if err := conn.WriteJSON(map[string]any{"type": "pong"}); err != nil {
				return
			}
		case "message":
			if strings.TrimSpace(frame.Message) == "" {
				continue
			}
			r.handleMessage(ctx, sess, frame.Message)
		default:
			// Unknown frame types are ignored so widget versions can skew
		}
	}
}

func (r *Relay) handleMessage(ctx context.Context, sess *session, text string) {
	if sess.conv == nil {
		if !r.openConversation(ctx, sess) {
			return
		}
	}

	// Authority may have changed since the last message (an operator can
	// take over at any time), so re-read before routing.
	conv, err := r.store.GetConversation(ctx, sess.conv.ID)
	if err != nil {
		r.logger.Error("refreshing conversation failed", "conversation_id", sess.conv.ID, "error", err)
		r.sendError(sess, "Failed to process message")
		return
	}
	sess.conv = conv

	switch conv.ResponseAuthority {
	case store.AuthorityHuman:
		// A human owns this conversation; persist and surface, no reply
		r.persistCustomerMessage(ctx, sess, text)
	case store.AuthorityRequested:
		if r.persistCustomerMessage(ctx, sess, text) {
			r.sendToSession(sess, map[string]any{
				"type":      "message",
				"role":      store.RoleAssistant,
				"content":   responder.WaitForOperatorText,
				"timestamp": frameTime(r.now()),
			})
		}
	default:
		r.respond(ctx, sess, text)
	}
}

// openConversation resumes the active conversation for this exact
// session or creates a new one. Returns false if neither worked.
func (r *Relay) openConversation(ctx context.Context, sess *session) bool {
	if sess.clientID == "" {
		sess.clientID = uuid.New().String()
	}

	conv, err := r.store.GetActiveConversationBySession(ctx, sess.agentID, sess.sessionID)
	if errors.Is(err, store.ErrNotFound) {
		now := r.now()
		conv = &store.Conversation{
			ID:                uuid.New().String(),
			AgentID:           sess.agentID,
			SessionID:         sess.sessionID,
			ClientID:          sess.clientID,
			Status:            store.ConversationActive,
			ResponseAuthority: store.AuthorityAutomated,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err = r.store.CreateConversation(ctx, conv)
	}
	if err != nil {
		r.logger.Error("opening conversation failed",
			"agent_id", sess.agentID, "session_id", sess.sessionID, "error", err)
		r.sendError(sess, "Failed to initialize conversation")
		return false
	}
	sess.conv = conv

	r.sendToSession(sess, map[string]any{
		"type":            "conversation_created",
		"conversation_id": conv.ID,
		"client_id":       sess.clientID,
		"session_id":      sess.sessionID,
	})
	r.registry.BroadcastToAgent(sess.agentID, map[string]any{
		"type":            "conversation_created",
		"conversation_id": conv.ID,
		"agent_id":        sess.agentID,
	})
	return true
}

// persistCustomerMessage saves the inbound message and runs the side
// channels (details, topics, dashboard). The widget already shows the
// message optimistically, so nothing is echoed back.
func (r *Relay) persistCustomerMessage(ctx context.Context, sess *session, text string) bool {
	now := r.now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: sess.conv.ID,
		Role:           store.RoleCustomer,
		Body:           text,
		CreatedAt:      now,
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		r.logger.Error("saving customer message failed", "conversation_id", sess.conv.ID, "error", err)
		r.sendError(sess, "Failed to process message")
		return false
	}
	if err := r.store.TouchConversation(ctx, sess.conv.ID, now); err != nil {
		r.logger.Warn("touching conversation failed", "conversation_id", sess.conv.ID, "error", err)
	}
	metrics.MessagesRelayed.WithLabelValues(store.RoleCustomer).Inc()

	if r.details != nil {
		r.details.ScanAsync(sess.conv, text)
	}
	if r.topics != nil {
		r.topics.Enqueue(sess.agentID, msg.ID, text)
	}
	r.registry.BroadcastToAgent(sess.agentID, map[string]any{
		"type":            "new_message",
		"conversation_id": sess.conv.ID,
		"agent_id":        sess.agentID,
		"role":            store.RoleCustomer,
	})
	return true
}

// respond runs the automated path: credit gate, optional explicit
// handoff, then streamed generation.
func (r *Relay) respond(ctx context.Context, sess *session, text string) {
	// History is read before the inbound message is saved; the new turn
	// travels as Request.Message and must not also appear in History.
	history, err := r.store.RecentMessages(ctx, sess.conv.ID, 10)
	if err != nil {
		r.logger.Error("loading history failed", "conversation_id", sess.conv.ID, "error", err)
		r.sendError(sess, "Failed to process message")
		return
	}

	if !r.persistCustomerMessage(ctx, sess, text) {
		return
	}

	if r.classifier != nil {
		explicit, err := r.classifier.RequestsHuman(ctx, text)
		if err != nil {
			r.logger.Warn("handoff classification failed", "error", err)
		} else if explicit {
			r.answerWithHandoff(ctx, sess, "User explicitly requested customer service")
			return
		}
	}

	if _, err := r.store.ReserveCredit(ctx, sess.agentID, r.now()); err != nil {
		if errors.Is(err, store.ErrQuotaExhausted) {
			metrics.CreditDenials.Inc()
			r.sendError(sess, "No message credits remaining. Your workspace has reached its monthly limit. Please upgrade your plan.")
			return
		}
		r.logger.Error("reserving credit failed", "agent_id", sess.agentID, "error", err)
		r.sendError(sess, "Failed to process message")
		return
	}

	r.sendToSession(sess, typingFrame(true))

	events, err := r.generate(ctx, sess, text, history)
	if err != nil {
		metrics.GenerationFailures.Inc()
		r.logger.Error("starting generation failed", "conversation_id", sess.conv.ID, "error", err)
		r.sendToSession(sess, typingFrame(false))
		r.sendError(sess, "Failed to process message")
		return
	}

	var full string
	var offerHandoff bool
	failed := false
	for ev := range events {
		switch ev.Type {
		case responder.EventChunk:
			r.sendToSession(sess, map[string]any{
				"type":      "message_chunk",
				"role":      store.RoleAssistant,
				"content":   ev.Text,
				"timestamp": frameTime(r.now()),
			})
		case responder.EventDone:
			full = ev.Text
			offerHandoff = ev.OfferHandoff
		case responder.EventError:
			failed = true
			metrics.GenerationFailures.Inc()
			r.logger.Error("generation failed", "conversation_id", sess.conv.ID, "error", ev.Err)
			r.sendToSession(sess, typingFrame(false))
			msg := ev.Err
			if msg == "" {
				msg = "Failed to process message"
			}
			r.sendError(sess, msg)
		}
	}
	if failed {
		return
	}

	if offerHandoff {
		if !responder.MentionsHandoff(full) {
			full += responder.HandoffOfferSuffix
		}
		r.createHandoff(ctx, sess, "AI determined handoff is needed")
	}

	r.finishAssistantMessage(ctx, sess, full)
}

// answerWithHandoff short-circuits generation when the customer asked
// for a person outright: open the request and confirm with canned text.
func (r *Relay) answerWithHandoff(ctx context.Context, sess *session, reason string) {
	r.logger.Info("explicit handoff request", "conversation_id", sess.conv.ID)
	r.createHandoff(ctx, sess, reason)
	r.finishAssistantMessage(ctx, sess, responder.HandoffAckText)
}

func (r *Relay) createHandoff(ctx context.Context, sess *session, reason string) {
	if r.handoffs == nil {
		return
	}
	if _, err := r.handoffs.CreateRequest(ctx, sess.conv.ID, reason); err != nil {
		r.logger.Error("creating handoff request failed",
			"conversation_id", sess.conv.ID, "error", err)
	}
}

// finishAssistantMessage persists the reply and emits the terminal
// message_complete frame carrying the stored message id.
func (r *Relay) finishAssistantMessage(ctx context.Context, sess *session, text string) {
	now := r.now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: sess.conv.ID,
		Role:           store.RoleAssistant,
		Body:           text,
		CreatedAt:      now,
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		r.logger.Error("saving assistant message failed", "conversation_id", sess.conv.ID, "error", err)
		r.sendToSession(sess, typingFrame(false))
		r.sendError(sess, "Failed to process message")
		return
	}
	if err := r.store.TouchConversation(ctx, sess.conv.ID, now); err != nil {
		r.logger.Warn("touching conversation failed", "conversation_id", sess.conv.ID, "error", err)
	}
	metrics.MessagesRelayed.WithLabelValues(store.RoleAssistant).Inc()
	if r.topics != nil {
		r.topics.Enqueue(sess.agentID, msg.ID, text)
	}

	r.sendToSession(sess, typingFrame(false))
	r.sendToSession(sess, map[string]any{
		"type":      "message_complete",
		"id":        msg.ID,
		"role":      store.RoleAssistant,
		"content":   text,
		"timestamp": frameTime(now),
	})
	r.registry.BroadcastToAgent(sess.agentID, map[string]any{
		"type":            "new_message",
		"conversation_id": sess.conv.ID,
		"agent_id":        sess.agentID,
		"role":            store.RoleAssistant,
	})
}

func (r *Relay) generate(ctx context.Context, sess *session, text string, history []*store.Message) (<-chan *responder.Event, error) {
	agent, err := r.store.GetAgent(ctx, sess.agentID)
	if err != nil {
		return nil, err
	}
	req := &responder.Request{
		AgentID:        sess.agentID,
		ConversationID: sess.conv.ID,
		Persona:        agent.Persona,
		Model:          agent.Model,
		Message:        text,
	}
	for _, m := range history {
		req.History = append(req.History, responder.Turn{Role: m.Role, Body: m.Body})
	}
	return r.generator.Generate(ctx, req)
}

// sendToSession fans a frame out to every connection of this session,
// not only the socket the message arrived on.
func (r *Relay) sendToSession(sess *session, v any) {
	r.registry.SendToSession(sess.sessionID, v)
}

func (r *Relay) sendError(sess *session, msg string) {
	r.sendToSession(sess, errorFrame(msg))
}

func errorFrame(msg string) map[string]any {
	return map[string]any{"type": "error", "message": msg}
}

func typingFrame(on bool) map[string]any {
	return map[string]any{"type": "typing", "is_typing": on}
}

func frameTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
