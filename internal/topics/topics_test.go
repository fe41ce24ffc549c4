// ABOUTME: Tests for background topic labeling
// ABOUTME: Labels apply exactly once and aggregates count only first-time labels

package topics

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhelm/relaydesk/internal/store"
)

type stubClassifier struct{ topic string }

func (c stubClassifier) ClassifyTopic(context.Context, string) (string, error) {
	return c.topic, nil
}

func seedMessage(t *testing.T, s store.Store) *store.Message {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	conv := &store.Conversation{
		ID:                uuid.New().String(),
		AgentID:           "agent-1",
		SessionID:         "session-1",
		Status:            store.ConversationActive,
		ResponseAuthority: store.AuthorityAutomated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           store.RoleCustomer,
		Body:           "how much does the pro plan cost",
		CreatedAt:      now,
	}
	require.NoError(t, s.SaveMessage(ctx, msg))
	return msg
}

func TestLabelerSetsTopicAndBumpsStat(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	msg := seedMessage(t, s)

	l := New(s, stubClassifier{topic: "Pricing"}, slog.Default())
	l.Enqueue("agent-1", msg.ID, msg.Body)
	l.Enqueue("agent-1", msg.ID, msg.Body) // duplicate must not double-count
	l.Close()

	got, err := s.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pricing", got.Topic)

	stats, err := s.ListTopicStats(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "Pricing", stats[0].Topic)
	assert.Equal(t, 1, stats[0].MessageCount)
}

func TestNilClassifierIsNoop(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	msg := seedMessage(t, s)

	l := New(s, nil, slog.Default())
	l.Enqueue("agent-1", msg.ID, msg.Body)
	l.Close()

	got, err := s.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Topic)
}
