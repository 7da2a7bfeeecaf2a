package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresChunkStore loads chunk rows for ready documents in a workspace.
// The embedding column is read back as text and parsed in Go so that a row
// with a malformed vector can be skipped instead of failing the scan.
type PostgresChunkStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresChunkStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresChunkStore{pool: pool, logger: logger}
}

func (s *PostgresChunkStore) ChunksInScope(ctx context.Context, scope Scope) ([]StoredChunk, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if scope.WorkspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}

	query := `
        SELECT
            c.hash,
            c.document_id::text,
            d.filename,
            c.content,
            c.chunk_index,
            c.page_number,
            c.heading_path,
            c.start_offset,
            c.end_offset,
            c.embedding::text
        FROM chunks c
        JOIN documents d ON d.id = c.document_id
        WHERE d.workspace_id = $1 AND d.status = 'ready'`
	args := []any{scope.WorkspaceID}
	if len(scope.DocumentIDs) > 0 {
		query += " AND c.document_id::text = ANY($2)"
		args = append(args, scope.DocumentIDs)
	}
	query += " ORDER BY c.document_id, c.chunk_index"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks in scope: %w", err)
	}
	defer rows.Close()

	results := make([]StoredChunk, 0)
	for rows.Next() {
		var (
			sc  StoredChunk
			raw string
		)
		if err := rows.Scan(&sc.Hash, &sc.DocumentID, &sc.Filename, &sc.Content, &sc.Index,
			&sc.PageNumber, &sc.HeadingPath, &sc.StartOffset, &sc.EndOffset, &raw); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}

		vec, err := parseVector(raw)
		if err != nil {
			// A broken stored embedding disqualifies the chunk, not the query.
			s.logger.Warn("stored embedding failed to parse",
				zap.String("document_id", sc.DocumentID),
				zap.String("hash", sc.Hash),
				zap.Error(err))
			continue
		}
		sc.Embedding = vec
		results = append(results, sc)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", rows.Err())
	}

	return results, nil
}

// parseVector parses the pgvector text form "[0.1,0.2,...]".
func parseVector(raw string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != '[' || raw[len(raw)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal")
	}
	body := raw[1 : len(raw)-1]
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("empty vector literal")
	}

	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

var _ ChunkStore = (*PostgresChunkStore)(nil)
