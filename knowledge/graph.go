// Package knowledge mirrors ingested documents into a Neo4j graph so that
// workspace structure can be queried independently of the vector store. The
// graph is an optional sidecar: a nil *Graph disables it everywhere.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	ID          string
	WorkspaceID string
	Filename    string
	Title       string
	SHA         string
	Chunks      []Chunk
}

type Chunk struct {
	Hash    string
	Index   int
	Heading string
	Page    int
}

// Graph wraps a Neo4j driver with the operations the ingestion service and
// the API need.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument replaces the graph representation of one document: the
// document node is upserted and its chunk nodes rebuilt from scratch.
func (g *Graph) SyncDocument(ctx context.Context, doc Document) error {
	if g == nil || g.driver == nil {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.workspace_id = $workspace_id,
			    d.filename = $filename,
			    d.title = $title,
			    d.sha256 = $sha,
			    d.updated_at = datetime()
			MERGE (w:Workspace {id: $workspace_id})
			MERGE (d)-[:IN_WORKSPACE]->(w)
		`, map[string]any{
			"id":           doc.ID,
			"workspace_id": doc.WorkspaceID,
			"filename":     doc.Filename,
			"title":        doc.Title,
			"sha":          doc.SHA,
		}); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, fmt.Errorf("clear chunk nodes: %w", err)
		}

		for _, ch := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				CREATE (c:Chunk {hash: $hash, index: $index, heading: $heading, page: $page})
				CREATE (d)-[:HAS_CHUNK {order: $index}]->(c)
			`, map[string]any{
				"doc_id":  doc.ID,
				"hash":    ch.Hash,
				"index":   ch.Index,
				"heading": ch.Heading,
				"page":    ch.Page,
			}); err != nil {
				return nil, fmt.Errorf("create chunk node: %w", err)
			}
		}

		return nil, nil
	})
	return err
}

// RemoveDocument drops a document and its chunks from the graph.
func (g *Graph) RemoveDocument(ctx context.Context, documentID string) error {
	if g == nil || g.driver == nil {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE d, c
		`, map[string]any{"id": documentID}); err != nil {
			return nil, fmt.Errorf("delete document node: %w", err)
		}
		return nil, nil
	})
	return err
}

// ChunkCounts returns the number of chunk nodes per document in a workspace.
func (g *Graph) ChunkCounts(ctx context.Context, workspaceID string) (map[string]int, error) {
	if g == nil || g.driver == nil {
		return nil, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	counts, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Document {workspace_id: $workspace_id})-[:HAS_CHUNK]->(c:Chunk)
			RETURN d.id AS id, count(c) AS chunks
		`, map[string]any{"workspace_id": workspaceID})
		if err != nil {
			return nil, err
		}

		out := make(map[string]int)
		for result.Next(ctx) {
			record := result.Record()
			id, _ := record.Get("id")
			n, _ := record.Get("chunks")
			docID, ok := id.(string)
			if !ok {
				continue
			}
			if count, ok := n.(int64); ok {
				out[docID] = int(count)
			}
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query chunk counts: %w", err)
	}
	return counts.(map[string]int), nil
}

// Purge removes every node written for a workspace.
func (g *Graph) Purge(ctx context.Context, workspaceID string) error {
	if g == nil || g.driver == nil {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document {workspace_id: $workspace_id})
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		DETACH DELETE d, c
	`, map[string]any{"workspace_id": workspaceID})
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}
