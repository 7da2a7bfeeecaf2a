// Package api exposes the HTTP surface: ingestion, verified question
// answering over SSE, cancellation and document listing.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"citeline/config"
	"citeline/ingestion"
	"citeline/knowledge"
	"citeline/pipeline"
)

type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	orch    *pipeline.Orchestrator
	ingest  *ingestion.Service
	graph   *knowledge.Graph
	pool    *pgxpool.Pool
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Dir         string `json:"dir"`
}

type askRequest struct {
	SessionID   string   `json:"session_id"`
	WorkspaceID string   `json:"workspace_id"`
	DocumentIDs []string `json:"document_ids"`
	Query       string   `json:"query"`
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

type documentInfo struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Chunks    int       `json:"chunks,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type documentsResponse struct {
	Documents []documentInfo `json:"documents"`
}

func New(cfg config.Config, logger *zap.Logger, orch *pipeline.Orchestrator, ingest *ingestion.Service, graph *knowledge.Graph, pool *pgxpool.Pool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{cfg: cfg, logger: logger, orch: orch, ingest: ingest, graph: graph, pool: pool}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/cancel", s.handleCancel)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("workspace_id is required"))
		return
	}
	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.cfg.DataDir
	}

	if err := s.ingest.IngestDirectory(r.Context(), workspaceID, dir); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ingestion complete"})
}

// handleAsk runs a verification pipeline session and streams its events as
// server-sent events. Each event is one `data:` frame holding the JSON
// encoding of a pipeline.Event; the connection closes after the terminal
// event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := func(ev pipeline.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		flusher.Flush()
		return nil
	}

	run := pipeline.Request{
		SessionID:   strings.TrimSpace(req.SessionID),
		WorkspaceID: strings.TrimSpace(req.WorkspaceID),
		DocumentIDs: req.DocumentIDs,
		Query:       req.Query,
	}
	// Terminal outcome travels in-stream; the HTTP status is already sent.
	if err := s.orch.Run(r.Context(), run, sink); err != nil {
		s.logger.Warn("ask session ended with error",
			zap.String("session_id", run.SessionID),
			zap.Error(err))
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required"))
		return
	}

	s.orch.Cancels().Cancel(sessionID)
	s.writeJSON(w, http.StatusAccepted, messageResponse{Message: "cancellation requested"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("workspace_id is required"))
		return
	}

	ctx := r.Context()
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, filename, COALESCE(title, ''), status, updated_at
		FROM documents
		WHERE workspace_id = $1
		ORDER BY filename
	`, workspaceID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}
	defer rows.Close()

	docs := make([]documentInfo, 0)
	for rows.Next() {
		var doc documentInfo
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Title, &doc.Status, &doc.UpdatedAt); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("scan document: %w", err))
			return
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}

	// Chunk counts come from the graph sidecar when it is configured.
	if counts, err := s.graph.ChunkCounts(ctx, workspaceID); err != nil {
		s.logger.Warn("chunk counts unavailable", zap.Error(err))
	} else {
		for i := range docs {
			docs[i].Chunks = counts[docs[i].ID]
		}
	}

	s.writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("api error", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}
