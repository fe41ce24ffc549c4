// ABOUTME: Append-only message persistence with set-once feedback and topic fields
// ABOUTME: Second attempts to set feedback/topic are no-ops so callers stay idempotent

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, role, body, feedback, topic, created_at`

// SaveMessage inserts a message row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Body,
		nullable(msg.Feedback), nullable(msg.Topic), fmtTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id, or ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// ListMessages returns a conversation's messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the last n messages of a conversation in
// chronological order, for use as generation context.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]*Message, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LastMessage returns the most recent message in a conversation, or ErrNotFound.
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT 1`, conversationID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// LastMessageByRole returns the most recent message with the given role,
// or ErrNotFound.
func (s *SQLiteStore) LastMessageByRole(ctx context.Context, conversationID, role string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND role = ?
		ORDER BY created_at DESC LIMIT 1`, conversationID, role)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// SetMessageFeedback records feedback once. A second call leaves the stored
// value untouched and returns the message as-is.
func (s *SQLiteStore) SetMessageFeedback(ctx context.Context, id, feedback string) (*Message, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET feedback = ? WHERE id = ? AND feedback IS NULL`,
		feedback, id)
	if err != nil {
		return nil, fmt.Errorf("setting feedback: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// SetMessageTopic labels a message once. Returns whether this call set it.
func (s *SQLiteStore) SetMessageTopic(ctx context.Context, id, topic string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET topic = ? WHERE id = ? AND topic IS NULL`,
		topic, id)
	if err != nil {
		return false, fmt.Errorf("setting topic: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BumpTopicStat upserts the per-agent counter for a topic.
func (s *SQLiteStore) BumpTopicStat(ctx context.Context, agentID, topic string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_stats (agent_id, topic, message_count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(agent_id, topic) DO UPDATE SET
			message_count = message_count + 1,
			updated_at = excluded.updated_at`,
		agentID, topic, fmtTime(at))
	if err != nil {
		return fmt.Errorf("bumping topic stat: %w", err)
	}
	return nil
}

// ListTopicStats returns topic counters for an agent, most frequent first.
func (s *SQLiteStore) ListTopicStats(ctx context.Context, agentID string) ([]*TopicStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, topic, message_count, updated_at FROM topic_stats
		WHERE agent_id = ? ORDER BY message_count DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing topic stats: %w", err)
	}
	defer rows.Close()

	var stats []*TopicStat
	for rows.Next() {
		var st TopicStat
		var updatedAt string
		if err := rows.Scan(&st.AgentID, &st.Topic, &st.MessageCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning topic stat: %w", err)
		}
		if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// AgentAnalytics aggregates conversation, message and feedback counts.
func (s *SQLiteStore) AgentAnalytics(ctx context.Context, agentID string) (*Analytics, error) {
	var a Analytics
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE agent_id = ?`, agentID).
		Scan(&a.TotalConversations)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN m.feedback = 'positive' THEN 1 END),
			COUNT(CASE WHEN m.feedback = 'negative' THEN 1 END)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.agent_id = ?`, agentID).
		Scan(&a.TotalMessages, &a.PositiveFeedback, &a.NegativeFeedback)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	return &a, nil
}

func scanMessage(sc rowScanner) (*Message, error) {
	var m Message
	var feedback, topic sql.NullString
	var createdAt string
	err := sc.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Body, &feedback, &topic, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	m.Feedback = feedback.String
	m.Topic = topic.String
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}
