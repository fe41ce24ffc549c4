// ABOUTME: Tests for the handoff coordinator
// ABOUTME: Exercises idempotent creation, operator message guards, reconciliation, and takeover

package handoff

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhelm/relaydesk/internal/store"
)

type fakeRegistry struct {
	mu       sync.Mutex
	session  []any
	agent    []any
	sessions []string
}

func (r *fakeRegistry) SendToSession(sessionID string, v any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = append(r.session, v)
	r.sessions = append(r.sessions, sessionID)
	return 1
}

func (r *fakeRegistry) BroadcastToAgent(agentID string, v any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent = append(r.agent, v)
	return 1
}

type fakeNotifier struct{ calls int }

func (n *fakeNotifier) HandoffRequested(context.Context, *store.TenantAgent, *store.Conversation, *store.HandoffRequest, string) {
	n.calls++
}

func newTestService(t *testing.T) (*Service, store.Store, *fakeRegistry, *fakeNotifier) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := &fakeRegistry{}
	notif := &fakeNotifier{}
	svc := New(s, reg, notif, slog.Default())
	return svc, s, reg, notif
}

func seedAgentAndConversation(t *testing.T, s store.Store, authority string) *store.Conversation {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	agent := &store.TenantAgent{
		ID: "agent-1", WorkspaceID: "ws-1", Name: "Support",
		Active: true, MessageCredits: 100, CreatedAt: now, UpdatedAt: now,
	}
	_ = s.CreateAgent(ctx, agent) // ignore duplicate across helpers

	conv := &store.Conversation{
		ID:                uuid.New().String(),
		AgentID:           agent.ID,
		SessionID:         "session-" + uuid.New().String()[:8],
		Status:            store.ConversationActive,
		ResponseAuthority: authority,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	return conv
}

func TestCreateRequestNotifiesOnce(t *testing.T) {
	svc, s, reg, notif := newTestService(t)
	ctx := context.Background()
	conv := seedAgentAndConversation(t, s, store.AuthorityAutomated)

	first, err := svc.CreateRequest(ctx, conv.ID, "customer asked")
	require.NoError(t, err)
	assert.Equal(t, store.HandoffPending, first.Status)
	assert.Len(t, reg.agent, 1)
	assert.Equal(t, 1, notif.calls)

	// A second request while one is pending changes nothing
	second, err := svc.CreateRequest(ctx, conv.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, reg.agent, 1)
	assert.Equal(t, 1, notif.calls)
}

func TestCreateRequestUnknownConversation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.CreateRequest(context.Background(), "nope", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendOperatorMessageGuards(t *testing.T) {
	svc, s, reg, _ := newTestService(t)
	ctx := context.Background()
	conv := seedAgentAndConversation(t, s, store.AuthorityAutomated)

	op := &store.Operator{ID: "op-1", Username: "maria", Email: "m@example.com", PasswordHash: "x", Active: true, CreatedAt: time.Now()}
	require.NoError(t, s.CreateOperator(ctx, op))

	// Not handed off yet
	_, err := svc.SendOperatorMessage(ctx, conv.ID, op, "hello")
	assert.ErrorIs(t, err, ErrNotHumanMode)

	req, err := svc.CreateRequest(ctx, conv.ID, "")
	require.NoError(t, err)
	_, err = svc.AcceptRequest(ctx, req.ID, op.ID)
	require.NoError(t, err)

	// Wrong operator
	other := &store.Operator{ID: "op-2", Username: "sam", Email: "s@example.com", PasswordHash: "x", Active: true, CreatedAt: time.Now()}
	require.NoError(t, s.CreateOperator(ctx, other))
	_, err = svc.SendOperatorMessage(ctx, conv.ID, other, "hi")
	assert.ErrorIs(t, err, ErrNotAssigned)

	// Assigned operator succeeds and the widget session gets the frame
	msg, err := svc.SendOperatorMessage(ctx, conv.ID, op, "how can I help?")
	require.NoError(t, err)
	assert.Equal(t, store.RoleOperator, msg.Role)

	require.Len(t, reg.session, 1)
	frame := reg.session[0].(map[string]any)
	assert.Equal(t, "message", frame["type"])
	assert.Equal(t, store.RoleOperator, frame["role"])
	assert.Equal(t, "maria", frame["agent_name"])
	assert.Equal(t, conv.SessionID, reg.sessions[0])

	saved, err := s.ListMessages(ctx, conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "how can I help?", saved[0].Body)
}

func TestPendingRequestsSynthesizesForOrphanedConversations(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	// Conversation stuck in handoff_requested with no request row
	orphan := seedAgentAndConversation(t, s, store.AuthorityRequested)
	normal := seedAgentAndConversation(t, s, store.AuthorityAutomated)
	created, err := svc.CreateRequest(ctx, normal.ID, "asked")
	require.NoError(t, err)

	pending, err := svc.PendingRequests(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byConv := map[string]*EnrichedRequest{}
	for _, r := range pending {
		byConv[r.ConversationID] = r
	}
	assert.Contains(t, byConv, orphan.ID)
	assert.Equal(t, created.ID, byConv[normal.ID].ID)
	assert.Equal(t, "Auto-created from conversation status", byConv[orphan.ID].Reason)

	// The synthesized row persists; a second listing creates nothing new
	again, err := svc.PendingRequests(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestPendingRequestsIncludesLastMessage(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()
	conv := seedAgentAndConversation(t, s, store.AuthorityAutomated)

	require.NoError(t, s.SaveMessage(ctx, &store.Message{
		ID: uuid.New().String(), ConversationID: conv.ID,
		Role: store.RoleCustomer, Body: "I need a person", CreatedAt: time.Now(),
	}))
	_, err := svc.CreateRequest(ctx, conv.ID, "")
	require.NoError(t, err)

	pending, err := svc.PendingRequests(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "I need a person", pending[0].LastMessage)
}

func TestTakeOverCreatesAndAccepts(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()
	conv := seedAgentAndConversation(t, s, store.AuthorityAutomated)

	req, err := svc.TakeOver(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, store.HandoffAccepted, req.Status)
	assert.Equal(t, "op-1", req.AcceptedBy)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AuthorityHuman, got.ResponseAuthority)
	assert.Equal(t, "op-1", got.AssignedOperatorID)

	// A second takeover by someone else does not steal the conversation
	again, err := svc.TakeOver(ctx, conv.ID, "op-2")
	require.NoError(t, err)
	assert.Equal(t, "op-1", again.AcceptedBy)
}

func TestConversationStatus(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()
	conv := seedAgentAndConversation(t, s, store.AuthorityAutomated)

	st, err := svc.ConversationStatus(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AuthorityAutomated, st.ResponseAuthority)
	assert.Nil(t, st.Request)

	req, err := svc.CreateRequest(ctx, conv.ID, "")
	require.NoError(t, err)

	st, err = svc.ConversationStatus(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AuthorityRequested, st.ResponseAuthority)
	require.NotNil(t, st.Request)
	assert.Equal(t, req.ID, st.Request.ID)
}

func TestResolveKeepsAssignment(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()
	conv := seedAgentAndConversation(t, s, store.AuthorityAutomated)

	req, err := svc.TakeOver(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	resolved, err := svc.ResolveRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.HandoffResolved, resolved.Status)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AuthorityHuman, got.ResponseAuthority)
	assert.Equal(t, "op-1", got.AssignedOperatorID)
}
