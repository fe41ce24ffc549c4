// ABOUTME: Handoff coordinator - create/accept/resolve requests and the operator message path
// ABOUTME: Dashboard fan-out and notifications are best-effort; persistence is the source of truth

package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openhelm/relaydesk/internal/metrics"
	"github.com/openhelm/relaydesk/internal/store"
)

// ErrNotAssigned indicates the operator is not the one assigned to the
// conversation.
var ErrNotAssigned = errors.New("operator not assigned to conversation")

// ErrNotHumanMode indicates the conversation has not been handed to a
// human yet, so operator messages are rejected.
var ErrNotHumanMode = errors.New("conversation is not assigned to a human")

// Broadcaster is the registry surface the coordinator needs.
type Broadcaster interface {
	SendToSession(sessionID string, v any) int
	BroadcastToAgent(agentID string, v any) int
}

// Notifier tells operators out-of-band about new requests.
type Notifier interface {
	HandoffRequested(ctx context.Context, agent *store.TenantAgent, conv *store.Conversation, req *store.HandoffRequest, lastMessage string)
}

// EnrichedRequest is a handoff request joined with the conversation
// identity and last message, the shape the dashboard consumes.
type EnrichedRequest struct {
	*store.HandoffRequest
	CustomerName  string
	CustomerEmail string
	LastMessage   string
}

// Status describes where a conversation stands in the handoff flow.
type Status struct {
	ResponseAuthority  string
	AssignedOperatorID string
	Request            *store.HandoffRequest // latest, any status; nil if none
}

// Service coordinates handoff requests between the store, the live
// connection registry, and notifications.
type Service struct {
	store    store.Store
	registry Broadcaster
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a handoff Service. notifier may be nil.
func New(s store.Store, registry Broadcaster, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		registry: registry,
		notifier: notifier,
		logger:   logger.With("component", "handoff"),
		now:      time.Now,
	}
}

// CreateRequest opens a pending handoff for a conversation. Calling it
// again while a request is pending returns the existing one. New
// requests are announced to the agent's dashboards and the notifier.
func (s *Service) CreateRequest(ctx context.Context, conversationID, reason string) (*EnrichedRequest, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	req, created, err := s.store.CreateHandoffRequest(ctx, &store.HandoffRequest{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		AgentID:        conv.AgentID,
		Reason:         reason,
		RequestedAt:    s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating handoff request: %w", err)
	}

	enriched := s.enrich(ctx, req, conv)

	if created {
		metrics.HandoffsRequested.Inc()
		s.logger.Info("handoff requested",
			"request_id", req.ID,
			"conversation_id", conv.ID,
			"agent_id", conv.AgentID,
			"reason", reason,
		)
		s.registry.BroadcastToAgent(conv.AgentID, map[string]any{
			"type":            "handoff_requested",
			"request_id":      req.ID,
			"conversation_id": conv.ID,
			"agent_id":        conv.AgentID,
			"reason":          reason,
			"requested_at":    frameTime(req.RequestedAt),
		})
		if s.notifier != nil {
			if agent, err := s.store.GetAgent(ctx, conv.AgentID); err == nil {
				s.notifier.HandoffRequested(ctx, agent, conv, req, enriched.LastMessage)
			}
		}
	}
	return enriched, nil
}

// AcceptRequest assigns a pending request to an operator. Exactly one
// concurrent accept wins; losers get ErrStateConflict.
func (s *Service) AcceptRequest(ctx context.Context, requestID, operatorID string) (*EnrichedRequest, error) {
	req, err := s.store.AcceptHandoffRequest(ctx, requestID, operatorID, s.now())
	if err != nil {
		return nil, err
	}
	metrics.HandoffsAccepted.Inc()
	s.logger.Info("handoff accepted",
		"request_id", req.ID,
		"conversation_id", req.ConversationID,
		"operator_id", operatorID,
	)

	s.registry.BroadcastToAgent(req.AgentID, map[string]any{
		"type":            "handoff_accepted",
		"request_id":      req.ID,
		"conversation_id": req.ConversationID,
		"operator_id":     operatorID,
	})
	return s.enrich(ctx, req, nil), nil
}

// SendOperatorMessage persists an operator reply and relays it to the
// customer's live session. The conversation must be human-assigned to
// this operator.
func (s *Service) SendOperatorMessage(ctx context.Context, conversationID string, operator *store.Operator, body string) (*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.ResponseAuthority != store.AuthorityHuman {
		return nil, ErrNotHumanMode
	}
	if conv.AssignedOperatorID != operator.ID {
		return nil, ErrNotAssigned
	}

	now := s.now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           store.RoleOperator,
		Body:           body,
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving operator message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, now); err != nil {
		s.logger.Warn("touching conversation failed", "conversation_id", conv.ID, "error", err)
	}
	metrics.MessagesRelayed.WithLabelValues(store.RoleOperator).Inc()

	// Relay to the live widget; the message is already durable, so a
	// closed session is not an error.
	s.registry.SendToSession(conv.SessionID, map[string]any{
		"type":       "message",
		"role":       store.RoleOperator,
		"content":    body,
		"agent_name": operator.Username,
		"timestamp":  frameTime(now),
	})
	s.registry.BroadcastToAgent(conv.AgentID, map[string]any{
		"type":            "new_message",
		"conversation_id": conv.ID,
		"agent_id":        conv.AgentID,
		"role":            store.RoleOperator,
	})
	return msg, nil
}

// PendingRequests lists pending requests for an agent, newest first.
// Conversations stuck in handoff_requested without a request row get
// one synthesized, so older data never hides a waiting customer.
func (s *Service) PendingRequests(ctx context.Context, agentID string) ([]*EnrichedRequest, error) {
	reqs, err := s.store.ListPendingHandoffRequests(ctx, agentID)
	if err != nil {
		return nil, err
	}

	covered := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		covered[r.ConversationID] = true
	}

	orphaned, err := s.store.ListConversationsByAuthority(ctx, agentID, store.AuthorityRequested)
	if err != nil {
		return nil, err
	}
	for _, conv := range orphaned {
		if covered[conv.ID] {
			continue
		}
		s.logger.Warn("conversation awaiting handoff without a request row",
			"conversation_id", conv.ID)
		req, _, err := s.store.CreateHandoffRequest(ctx, &store.HandoffRequest{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			AgentID:        agentID,
			Reason:         "Auto-created from conversation status",
			RequestedAt:    s.now(),
		})
		if err != nil {
			s.logger.Error("synthesizing handoff request failed",
				"conversation_id", conv.ID, "error", err)
			continue
		}
		reqs = append(reqs, req)
	}

	out := make([]*EnrichedRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, s.enrich(ctx, r, nil))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

// TakeOver puts an operator in charge of a conversation immediately,
// creating and accepting a request as needed. A conversation already
// accepted by another operator is returned unchanged.
func (s *Service) TakeOver(ctx context.Context, conversationID, operatorID string) (*EnrichedRequest, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	req, err := s.store.LatestHandoffRequest(ctx, conv.ID)
	if err == store.ErrNotFound || (err == nil && req.Status == store.HandoffResolved) {
		created, createErr := s.CreateRequest(ctx, conv.ID, "Manual takeover")
		if createErr != nil {
			return nil, createErr
		}
		req = created.HandoffRequest
	} else if err != nil {
		return nil, err
	}

	if req.Status == store.HandoffPending {
		return s.AcceptRequest(ctx, req.ID, operatorID)
	}
	return s.enrich(ctx, req, conv), nil
}

// ConversationStatus reports the handoff state of one conversation.
func (s *Service) ConversationStatus(ctx context.Context, conversationID string) (*Status, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	st := &Status{
		ResponseAuthority:  conv.ResponseAuthority,
		AssignedOperatorID: conv.AssignedOperatorID,
	}
	req, err := s.store.LatestHandoffRequest(ctx, conv.ID)
	if err == nil {
		st.Request = req
	} else if err != store.ErrNotFound {
		return nil, err
	}
	return st, nil
}

// ResolveRequest closes out an accepted request. The conversation keeps
// its human assignment; resolution is bookkeeping, not a route change.
func (s *Service) ResolveRequest(ctx context.Context, requestID string) (*store.HandoffRequest, error) {
	req, err := s.store.ResolveHandoffRequest(ctx, requestID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("handoff resolved", "request_id", req.ID, "conversation_id", req.ConversationID)
	s.registry.BroadcastToAgent(req.AgentID, map[string]any{
		"type":            "handoff_resolved",
		"request_id":      req.ID,
		"conversation_id": req.ConversationID,
	})
	return req, nil
}

// enrich joins a request with conversation identity and last message.
// conv may be nil; lookups are best-effort.
func (s *Service) enrich(ctx context.Context, req *store.HandoffRequest, conv *store.Conversation) *EnrichedRequest {
	out := &EnrichedRequest{HandoffRequest: req}
	if conv == nil {
		conv, _ = s.store.GetConversation(ctx, req.ConversationID)
	}
	if conv != nil {
		out.CustomerName = conv.CustomerName
		out.CustomerEmail = conv.CustomerEmail
	}
	if last, err := s.store.LastMessage(ctx, req.ConversationID); err == nil {
		out.LastMessage = last.Body
	}
	return out
}

func frameTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
