// ABOUTME: Tenant agent and operator persistence plus message-credit accounting
// ABOUTME: ReserveCredit is the happens-before gate for response generation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrQuotaExhausted is returned by ReserveCredit when the agent has no
// remaining message credits. Generation must not start in that case.
var ErrQuotaExhausted = errors.New("message credits exhausted")

// creditResetWindow is the monthly allowance renewal period.
const creditResetWindow = 30 * 24 * time.Hour

// defaultMonthlyCredits is granted on each reset window rollover.
const defaultMonthlyCredits = 100

// CreateAgent inserts a tenant agent row.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *TenantAgent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_agents (id, workspace_id, name, persona, model, active, message_credits, credits_reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.WorkspaceID, agent.Name, agent.Persona, agent.Model,
		agent.Active, agent.MessageCredits, fmtTimePtr(agent.CreditsResetAt),
		fmtTime(agent.CreatedAt), fmtTime(agent.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgent returns a tenant agent by id, or ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*TenantAgent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, persona, model, active, message_credits, credits_reset_at, created_at, updated_at
		FROM tenant_agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ReserveCredit atomically deducts one message credit for the agent,
// rolling the allowance over first if the reset window has passed.
// Returns the credits remaining after the deduction.
func (s *SQLiteStore) ReserveCredit(ctx context.Context, agentID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning reserve tx: %w", err)
	}
	defer tx.Rollback()

	var credits int
	var resetAt sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT message_credits, credits_reset_at FROM tenant_agents WHERE id = ?`,
		agentID).Scan(&credits, &resetAt)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading credits: %w", err)
	}

	reset, err := parseTimePtr(resetAt)
	if err != nil {
		return 0, fmt.Errorf("parsing credits_reset_at: %w", err)
	}
	if reset != nil && !now.Before(*reset) {
		credits = defaultMonthlyCredits
		next := now.Add(creditResetWindow)
		reset = &next
	}

	if credits < 1 {
		return 0, ErrQuotaExhausted
	}
	credits--

	_, err = tx.ExecContext(ctx,
		`UPDATE tenant_agents SET message_credits = ?, credits_reset_at = ? WHERE id = ?`,
		credits, fmtTimePtr(reset), agentID)
	if err != nil {
		return 0, fmt.Errorf("deducting credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing reserve tx: %w", err)
	}
	return credits, nil
}

// CreateOperator inserts an operator row.
func (s *SQLiteStore) CreateOperator(ctx context.Context, op *Operator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, username, email, password_hash, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.Username, op.Email, op.PasswordHash, op.Active, fmtTime(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting operator: %w", err)
	}
	return nil
}

// GetOperator returns an operator by id, or ErrNotFound.
func (s *SQLiteStore) GetOperator(ctx context.Context, id string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, active, created_at
		FROM operators WHERE id = ?`, id)
	return scanOperator(row)
}

// GetOperatorByUsername returns an operator by username, or ErrNotFound.
func (s *SQLiteStore) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, active, created_at
		FROM operators WHERE username = ?`, username)
	return scanOperator(row)
}

func scanAgent(row *sql.Row) (*TenantAgent, error) {
	var a TenantAgent
	var resetAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Persona, &a.Model,
		&a.Active, &a.MessageCredits, &resetAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	if a.CreditsResetAt, err = parseTimePtr(resetAt); err != nil {
		return nil, fmt.Errorf("parsing credits_reset_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

func scanOperator(row *sql.Row) (*Operator, error) {
	var o Operator
	var createdAt string
	err := row.Scan(&o.ID, &o.Username, &o.Email, &o.PasswordHash, &o.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning operator: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &o, nil
}
