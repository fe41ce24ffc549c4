// ABOUTME: Handoff request persistence - idempotent create, single-winner accept, resolve
// ABOUTME: Request mutation and the conversation authority flip commit in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const handoffColumns = `id, conversation_id, agent_id, status, reason,
	requested_at, accepted_at, accepted_by_operator_id, resolved_at`

// CreateHandoffRequest creates a pending request and flips the conversation
// to handoff_requested in a single transaction. If a pending request
// already exists for the conversation it is returned unchanged. The bool
// reports whether a new row was created.
func (s *SQLiteStore) CreateHandoffRequest(ctx context.Context, req *HandoffRequest) (*HandoffRequest, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning create tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+handoffColumns+` FROM handoff_requests
		WHERE conversation_id = ? AND status = ?`,
		req.ConversationID, HandoffPending)
	existing, err := scanHandoff(row)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing create tx: %w", err)
		}
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO handoff_requests (`+handoffColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ConversationID, req.AgentID, HandoffPending, nullable(req.Reason),
		fmtTime(req.RequestedAt), nil, nil, nil)
	if err != nil {
		return nil, false, fmt.Errorf("inserting handoff request: %w", err)
	}

	// Only an automated conversation can move to handoff_requested; a
	// human_assigned conversation never goes backwards.
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET response_authority = ?, updated_at = ?
		WHERE id = ? AND response_authority = ?`,
		AuthorityRequested, fmtTime(req.RequestedAt), req.ConversationID, AuthorityAutomated)
	if err != nil {
		return nil, false, fmt.Errorf("updating conversation authority: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if n == 0 {
		var authority string
		err := tx.QueryRowContext(ctx,
			`SELECT response_authority FROM conversations WHERE id = ?`,
			req.ConversationID).Scan(&authority)
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		if err != nil {
			return nil, false, fmt.Errorf("reading conversation authority: %w", err)
		}
		if authority != AuthorityRequested {
			return nil, false, ErrStateConflict
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing create tx: %w", err)
	}

	created := *req
	created.Status = HandoffPending
	return &created, true, nil
}

// GetHandoffRequest returns a request by id, or ErrNotFound.
func (s *SQLiteStore) GetHandoffRequest(ctx context.Context, id string) (*HandoffRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+handoffColumns+` FROM handoff_requests WHERE id = ?`, id)
	req, err := scanHandoff(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

// LatestHandoffRequest returns the most recent request for a conversation
// regardless of status, or ErrNotFound.
func (s *SQLiteStore) LatestHandoffRequest(ctx context.Context, conversationID string) (*HandoffRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+handoffColumns+` FROM handoff_requests
		WHERE conversation_id = ?
		ORDER BY requested_at DESC LIMIT 1`, conversationID)
	req, err := scanHandoff(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

// AcceptHandoffRequest accepts a pending request and assigns the
// conversation to the operator in a single transaction. Exactly one of two
// concurrent callers wins; the loser gets ErrStateConflict. The accepted
// timestamp and operator of a prior acceptance are never overwritten.
func (s *SQLiteStore) AcceptHandoffRequest(ctx context.Context, id, operatorID string, at time.Time) (*HandoffRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning accept tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE handoff_requests
		SET status = ?, accepted_at = ?, accepted_by_operator_id = ?
		WHERE id = ? AND status = ?`,
		HandoffAccepted, fmtTime(at), operatorID, id, HandoffPending)
	if err != nil {
		return nil, fmt.Errorf("accepting handoff request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish a missing request from a lost race
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM handoff_requests WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("reading handoff status: %w", err)
		}
		return nil, ErrStateConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET response_authority = ?, assigned_operator_id = ?, updated_at = ?
		WHERE id = (SELECT conversation_id FROM handoff_requests WHERE id = ?)`,
		AuthorityHuman, operatorID, fmtTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("assigning conversation: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+handoffColumns+` FROM handoff_requests WHERE id = ?`, id)
	req, err := scanHandoff(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing accept tx: %w", err)
	}
	return req, nil
}

// ResolveHandoffRequest moves an accepted request to resolved.
func (s *SQLiteStore) ResolveHandoffRequest(ctx context.Context, id string, at time.Time) (*HandoffRequest, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE handoff_requests SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		HandoffResolved, fmtTime(at), id, HandoffAccepted)
	if err != nil {
		return nil, fmt.Errorf("resolving handoff request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.GetHandoffRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStateConflict
	}
	return s.GetHandoffRequest(ctx, id)
}

// ListPendingHandoffRequests returns pending requests for an agent, newest first.
func (s *SQLiteStore) ListPendingHandoffRequests(ctx context.Context, agentID string) ([]*HandoffRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+handoffColumns+` FROM handoff_requests
		WHERE agent_id = ? AND status = ?
		ORDER BY requested_at DESC`,
		agentID, HandoffPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending requests: %w", err)
	}
	defer rows.Close()

	var reqs []*HandoffRequest
	for rows.Next() {
		req, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func scanHandoff(sc rowScanner) (*HandoffRequest, error) {
	var r HandoffRequest
	var reason, acceptedBy sql.NullString
	var requestedAt string
	var acceptedAt, resolvedAt sql.NullString
	err := sc.Scan(&r.ID, &r.ConversationID, &r.AgentID, &r.Status, &reason,
		&requestedAt, &acceptedAt, &acceptedBy, &resolvedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning handoff request: %w", err)
	}
	r.Reason = reason.String
	r.AcceptedBy = acceptedBy.String
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, fmt.Errorf("parsing requested_at: %w", err)
	}
	if r.AcceptedAt, err = parseTimePtr(acceptedAt); err != nil {
		return nil, fmt.Errorf("parsing accepted_at: %w", err)
	}
	if r.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}
	return &r, nil
}
