// Package retrieval ranks stored chunks against a query by cosine
// similarity. This is a full scan over the chunks in scope, with no index;
// it is a known scale limit acceptable for bounded workspace corpora.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"citeline/chunk"
	"citeline/embeddings"
)

const (
	DefaultThreshold = 0.3
	DefaultLimit     = 12
)

// Scope bounds a query to one workspace, optionally narrowed to specific
// documents.
type Scope struct {
	WorkspaceID string
	DocumentIDs []string
}

// StoredChunk is a chunk as loaded from the store, embedding included.
type StoredChunk struct {
	chunk.Chunk
	Filename  string
	Embedding []float32
}

// RetrievedChunk is a chunk scored against one query. Ephemeral; never
// persisted.
type RetrievedChunk struct {
	chunk.Chunk
	Filename   string
	Similarity float64
}

// ChunkStore loads all chunks of ready documents in scope.
type ChunkStore interface {
	ChunksInScope(ctx context.Context, scope Scope) ([]StoredChunk, error)
}

type Options struct {
	Threshold float64
	Limit     int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

type Retriever struct {
	store    ChunkStore
	embedder embeddings.Embedder
	logger   *zap.Logger
}

func NewRetriever(store ChunkStore, embedder embeddings.Embedder, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}
}

// Retrieve embeds the query, scores every in-scope chunk, drops scores below
// the threshold, and returns at most limit chunks sorted by descending
// similarity. An empty result is meaningful, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope Scope, opts Options) ([]RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	opts = opts.withDefaults()

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}
	queryVec := vectors[0]

	stored, err := r.store.ChunksInScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load chunks in scope: %w", err)
	}

	results := make([]RetrievedChunk, 0, len(stored))
	for _, sc := range stored {
		if len(sc.Embedding) == 0 {
			r.logger.Warn("skipping chunk without usable embedding",
				zap.String("document_id", sc.DocumentID),
				zap.String("hash", sc.Hash))
			continue
		}
		sim := Cosine(queryVec, sc.Embedding)
		if sim < opts.Threshold {
			continue
		}
		results = append(results, RetrievedChunk{
			Chunk:      sc.Chunk,
			Filename:   sc.Filename,
			Similarity: sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results, nil
}

// Cosine computes cosine similarity; mismatched lengths score against the
// shared prefix, zero vectors score 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
