package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"citeline/evidence"
)

// SessionStore persists session state and the final ledger. All writes are
// best-effort from the pipeline's point of view: failures are logged and the
// event stream continues.
type SessionStore interface {
	CreateSession(ctx context.Context, sessionID, workspaceID, query string) error
	UpdateStatus(ctx context.Context, sessionID, status, message string) error
	SaveResult(ctx context.Context, sessionID, response string, ledger *evidence.Ledger) error
}

// PostgresSessionStore writes sessions, claims and risk flags to Postgres.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

func (s *PostgresSessionStore) CreateSession(ctx context.Context, sessionID, workspaceID, query string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, workspace_id, query, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET query = $3, status = 'running', updated_at = NOW()
	`, sessionID, workspaceID, query)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) UpdateStatus(ctx context.Context, sessionID, status, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1
	`, sessionID, status, message)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) SaveResult(ctx context.Context, sessionID, response string, ledger *evidence.Ledger) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed', response = $2, updated_at = NOW()
		WHERE id = $1
	`, sessionID, response); err != nil {
		return fmt.Errorf("update session result: %w", err)
	}

	// Each judge pass replaces the ledger wholesale; only the last one is final.
	if _, err = tx.Exec(ctx, "DELETE FROM claims WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("clear claims: %w", err)
	}
	if _, err = tx.Exec(ctx, "DELETE FROM risk_flags WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("clear risk flags: %w", err)
	}

	for _, claim := range ledger.Entries {
		if _, err = tx.Exec(ctx, `
			INSERT INTO claims (id, session_id, claim_text, claim_type, importance, verdict,
			                    confidence, evidence_snippet, chunk_ids, source_tag, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		`, uuid.New(), sessionID, claim.Text, string(claim.Type), string(claim.Importance),
			string(claim.Verdict), claim.Confidence, claim.EvidenceSnippet, claim.ChunkIDs,
			claim.SourceTag, claim.Notes); err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
	}

	for _, flag := range ledger.RiskFlags {
		if _, err = tx.Exec(ctx, `
			INSERT INTO risk_flags (id, session_id, type, description, severity, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, uuid.New(), sessionID, flag.Type, flag.Description, flag.Severity); err != nil {
			return fmt.Errorf("insert risk flag: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

var _ SessionStore = (*PostgresSessionStore)(nil)
