// Package ingestion loads documents from disk, chunks and embeds them, and
// writes the result to the Postgres store and the optional knowledge graph.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"citeline/chunk"
	"citeline/database"
	"citeline/embeddings"
	"citeline/knowledge"
)

// ingestConcurrency bounds parallel file ingestion; embedding calls dominate
// the cost so a small fan-out is enough.
const ingestConcurrency = 4

type Service struct {
	pool      *pgxpool.Pool
	graph     *knowledge.Graph
	embedder  embeddings.Embedder
	logger    *zap.Logger
	dimension int
	chunking  chunk.Options
}

func NewService(pool *pgxpool.Pool, graph *knowledge.Graph, embedder embeddings.Embedder, logger *zap.Logger, dimension int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:      pool,
		graph:     graph,
		embedder:  embedder,
		logger:    logger,
		dimension: dimension,
	}
}

// IngestDirectory walks dir and ingests every supported document into the
// workspace. Files are processed concurrently; a failing file is logged and
// skipped so one bad document never blocks the rest of the corpus.
func (s *Service) IngestDirectory(ctx context.Context, workspaceID, dir string) error {
	if s.embedder == nil {
		return fmt.Errorf("embedder not configured")
	}
	if workspaceID == "" {
		return fmt.Errorf("workspace id is required")
	}
	if err := database.EnsureSchema(ctx, s.pool, s.dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if Supported(path) {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk data directory: %w", err)
	}

	if len(paths) == 0 {
		s.logger.Info("no supported documents found", zap.String("dir", dir))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := s.IngestFile(gctx, workspaceID, dir, path); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.logger.Warn("ingest failed, skipping file",
					zap.String("path", path),
					zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// IngestFile ingests a single document. Unchanged files (same content hash)
// are left alone.
func (s *Service) IngestFile(ctx context.Context, workspaceID, root, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	filename, relErr := filepath.Rel(root, path)
	if relErr != nil {
		filename = filepath.Base(path)
	}
	filename = filepath.ToSlash(filename)

	sum := sha256.Sum256(data)
	shaHex := hex.EncodeToString(sum[:])

	pages, err := Pages(path, data)
	if err != nil {
		return fmt.Errorf("extract pages: %w", err)
	}
	title := ExtractTitle(pages[0].Text, filepath.Base(path))

	docID, changed, err := s.upsertDocument(ctx, workspaceID, filename, title, shaHex)
	if err != nil {
		return err
	}
	if !changed {
		s.logger.Debug("document unchanged", zap.String("filename", filename))
		return nil
	}

	chunks := chunk.Split(docID.String(), pages, s.chunking)
	if len(chunks) == 0 {
		s.logger.Info("document produced no chunks", zap.String("filename", filename))
		return s.markReady(ctx, docID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d embeddings", len(chunks), len(vectors))
	}

	if err := s.replaceChunks(ctx, docID, chunks, vectors); err != nil {
		return err
	}

	// Graph sync is best-effort; the vector store is already consistent.
	if s.graph != nil {
		nodes := make([]knowledge.Chunk, len(chunks))
		for i, c := range chunks {
			heading := ""
			if len(c.HeadingPath) > 0 {
				heading = c.HeadingPath[len(c.HeadingPath)-1]
			}
			nodes[i] = knowledge.Chunk{Hash: c.Hash, Index: c.Index, Heading: heading, Page: c.PageNumber}
		}
		doc := knowledge.Document{
			ID:          docID.String(),
			WorkspaceID: workspaceID,
			Filename:    filename,
			Title:       title,
			SHA:         shaHex,
			Chunks:      nodes,
		}
		if err := s.graph.SyncDocument(ctx, doc); err != nil {
			s.logger.Warn("knowledge graph sync failed",
				zap.String("filename", filename),
				zap.Error(err))
		}
	}

	s.logger.Info("document ingested",
		zap.String("workspace_id", workspaceID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)))
	return nil
}

// upsertDocument records the document and reports whether its content
// changed since the last ingest. Changed documents flip back to pending
// until their chunks are rewritten.
func (s *Service) upsertDocument(ctx context.Context, workspaceID, filename, title, sha string) (uuid.UUID, bool, error) {
	var (
		docID       uuid.UUID
		existingSHA string
	)

	err := s.pool.QueryRow(ctx,
		"SELECT id, sha256 FROM documents WHERE workspace_id = $1 AND filename = $2",
		workspaceID, filename,
	).Scan(&docID, &existingSHA)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			newID := uuid.New()
			if _, execErr := s.pool.Exec(ctx, `
				INSERT INTO documents (id, workspace_id, filename, title, sha256, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'pending', NOW(), NOW())
			`, newID, workspaceID, filename, title, sha); execErr != nil {
				return uuid.Nil, false, fmt.Errorf("insert document: %w", execErr)
			}
			return newID, true, nil
		}
		return uuid.Nil, false, fmt.Errorf("query document: %w", err)
	}

	if existingSHA == sha {
		return docID, false, nil
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET title = $2, sha256 = $3, status = 'pending', updated_at = NOW()
		WHERE id = $1
	`, docID, title, sha); err != nil {
		return uuid.Nil, false, fmt.Errorf("update document: %w", err)
	}
	return docID, true, nil
}

// replaceChunks swaps the document's chunk rows in one transaction so
// retrieval never sees a half-written document.
func (s *Service) replaceChunks(ctx context.Context, docID uuid.UUID, chunks []chunk.Chunk, vectors [][]float32) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", docID); err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}

	for i, c := range chunks {
		if _, err = tx.Exec(ctx, `
			INSERT INTO chunks (document_id, chunk_index, hash, content, page_number,
			                    heading_path, start_offset, end_offset, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		`, docID, c.Index, c.Hash, c.Content, c.PageNumber, c.HeadingPath,
			c.StartOffset, c.EndOffset, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	if _, err = tx.Exec(ctx, "UPDATE documents SET status = 'ready', updated_at = NOW() WHERE id = $1", docID); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (s *Service) markReady(ctx context.Context, docID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "UPDATE documents SET status = 'ready', updated_at = NOW() WHERE id = $1", docID); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}
	return nil
}

// Clear deletes every document in a workspace from Postgres and the graph.
func (s *Service) Clear(ctx context.Context, workspaceID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE workspace_id = $1", workspaceID); err != nil {
		return fmt.Errorf("delete workspace documents: %w", err)
	}
	if s.graph != nil {
		if err := s.graph.Purge(ctx, workspaceID); err != nil {
			s.logger.Warn("knowledge graph purge failed",
				zap.String("workspace_id", workspaceID),
				zap.Error(err))
		}
	}
	return nil
}
