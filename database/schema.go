package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables for documents, chunks, sessions and the
// evidence ledger. Statements are idempotent so it runs on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			title TEXT,
			sha256 TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(workspace_id, filename)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			hash TEXT NOT NULL,
			content TEXT NOT NULL,
			page_number INT NOT NULL DEFAULT 0,
			heading_path TEXT[] NOT NULL DEFAULT '{}',
			start_offset INT NOT NULL DEFAULT 0,
			end_offset INT NOT NULL DEFAULT 0,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY(document_id, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(hash)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)",
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL DEFAULT '',
			query TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'running',
			response TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS claims (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			claim_text TEXT NOT NULL,
			claim_type TEXT NOT NULL,
			importance TEXT NOT NULL,
			verdict TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			evidence_snippet TEXT,
			chunk_ids TEXT[] NOT NULL DEFAULT '{}',
			source_tag TEXT,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		"CREATE INDEX IF NOT EXISTS idx_claims_session ON claims(session_id)",
		`CREATE TABLE IF NOT EXISTS risk_flags (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			description TEXT,
			severity TEXT NOT NULL DEFAULT 'low',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		"CREATE INDEX IF NOT EXISTS idx_risk_flags_session ON risk_flags(session_id)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
