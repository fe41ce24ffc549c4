// ABOUTME: Conversation persistence - lazy creation by session, listings, set-once customer details
// ABOUTME: Resumption matches the exact session id only; client_id is history grouping, never routing

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `id, agent_id, session_id, client_id, customer_name, customer_email,
	customer_phone, status, response_authority, assigned_operator_id, created_at, updated_at`

// CreateConversation inserts a conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.AgentID, conv.SessionID, nullable(conv.ClientID),
		nullable(conv.CustomerName), nullable(conv.CustomerEmail), nullable(conv.CustomerPhone),
		conv.Status, conv.ResponseAuthority, nullable(conv.AssignedOperatorID),
		fmtTime(conv.CreatedAt), fmtTime(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation returns a conversation by id, or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetActiveConversationBySession returns the active conversation for the
// exact (agent, session) pair, or ErrNotFound. A different session id never
// resumes another session's conversation, even for the same client id.
func (s *SQLiteStore) GetActiveConversationBySession(ctx context.Context, agentID, sessionID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE agent_id = ? AND session_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		agentID, sessionID, ConversationActive)
	return scanConversation(row)
}

// ListConversations returns a page of conversations ordered by recency,
// plus the total row count for the filter.
func (s *SQLiteStore) ListConversations(ctx context.Context, params ListConversationsParams) ([]*Conversation, int, error) {
	where := []string{"agent_id = ?"}
	args := []any{params.AgentID}
	if params.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, params.SessionID)
	}
	if params.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, params.ClientID)
	}
	if params.Status != "" {
		where = append(where, "status = ?")
		args = append(args, params.Status)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting conversations: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE ` + cond +
		` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, 0, err
		}
		convs = append(convs, conv)
	}
	return convs, total, rows.Err()
}

// ListConversationsByAuthority returns conversations for an agent in the
// given response-authority state, used by the pending-handoff reconciliation.
func (s *SQLiteStore) ListConversationsByAuthority(ctx context.Context, agentID, authority string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE agent_id = ? AND response_authority = ?`,
		agentID, authority)
	if err != nil {
		return nil, fmt.Errorf("listing conversations by authority: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// UpdateConversationStatus sets the lifecycle status (active/archived).
// Response authority is untouched; archival never resets it.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}
	return requireRow(res)
}

// TouchConversation bumps updated_at.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return requireRow(res)
}

// FillCustomerDetails sets customer identity fields that are still unset.
// Populated fields are never overwritten. Returns whether anything changed.
func (s *SQLiteStore) FillCustomerDetails(ctx context.Context, id, name, email, phone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			customer_name  = COALESCE(customer_name, ?),
			customer_email = COALESCE(customer_email, ?),
			customer_phone = COALESCE(customer_phone, ?)
		WHERE id = ?
		  AND (
			(customer_name IS NULL AND ? IS NOT NULL) OR
			(customer_email IS NULL AND ? IS NOT NULL) OR
			(customer_phone IS NULL AND ? IS NOT NULL)
		  )`,
		nullable(name), nullable(email), nullable(phone), id,
		nullable(name), nullable(email), nullable(phone))
	if err != nil {
		return false, fmt.Errorf("filling customer details: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteEmptyConversations removes conversations with no messages for an
// agent and returns how many were deleted.
func (s *SQLiteStore) DeleteEmptyConversations(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE agent_id = ?
		  AND id NOT IN (SELECT DISTINCT conversation_id FROM messages)`,
		agentID)
	if err != nil {
		return 0, fmt.Errorf("deleting empty conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	conv, err := scanConversationFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return conv, err
}

func scanConversationRows(rows *sql.Rows) (*Conversation, error) {
	return scanConversationFrom(rows)
}

func scanConversationFrom(sc rowScanner) (*Conversation, error) {
	var c Conversation
	var clientID, name, email, phone, operator sql.NullString
	var createdAt, updatedAt string
	err := sc.Scan(&c.ID, &c.AgentID, &c.SessionID, &clientID, &name, &email,
		&phone, &c.Status, &c.ResponseAuthority, &operator, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	c.ClientID = clientID.String
	c.CustomerName = name.String
	c.CustomerEmail = email.String
	c.CustomerPhone = phone.String
	c.AssignedOperatorID = operator.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}
