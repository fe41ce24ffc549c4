// ABOUTME: Tests for customer identity extraction
// ABOUTME: Regex matching plus fill-once behavior against a real store

package details

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

func TestExtractEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", ExtractEmail("reach me at Ada@Example.com thanks"))
	assert.Equal(t, "a.b+tag@sub.domain.co", ExtractEmail("a.b+tag@sub.domain.co"))
	assert.Equal(t, "", ExtractEmail("no email here"))
	assert.Equal(t, "", ExtractEmail("not@anemail"))
}

func TestExtractPhone(t *testing.T) {
	assert.Equal(t, "555-123-4567", ExtractPhone("call me on 555-123-4567 please"))
	assert.Equal(t, "(555) 123 4567", ExtractPhone("(555) 123 4567"))
	assert.Equal(t, "+1 555.123.4567", ExtractPhone("+1 555.123.4567"))
	assert.Equal(t, "", ExtractPhone("my order number is 42"))
}

type stubNames struct{ name string }

func (s stubNames) ExtractName(context.Context, string) (string, error) {
	return s.name, nil
}

func TestScanFillsOnlyUnsetFields(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	now := time.Now()
	conv := &store.Conversation{
		ID:                uuid.New().String(),
		AgentID:           "agent-1",
		SessionID:         "session-1",
		CustomerName:      "Ada",
		Status:            store.ConversationActive,
		ResponseAuthority: store.AuthorityAutomated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	e := New(s, stubNames{name: "Eve"}, slog.Default())
	e.Scan(ctx, conv, "my email is ada@example.com and my number is 555-123-4567")

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.CustomerName) // already set, extractor skipped
	assert.Equal(t, "ada@example.com", got.CustomerEmail)
	assert.Equal(t, "555-123-4567", got.CustomerPhone)
}

func TestScanExtractsName(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
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

	e := New(s, stubNames{name: "  Marie   Curie "}, slog.Default())
	e.Scan(ctx, conv, "je m'appelle Marie Curie")

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Marie Curie", got.CustomerName)
}

func TestValidName(t *testing.T) {
	assert.True(t, validName("John"))
	assert.True(t, validName("Àlvaro"))
	assert.False(t, validName("J"))
	assert.False(t, validName("12345"))
}
