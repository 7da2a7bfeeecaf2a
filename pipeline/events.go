package pipeline

import (
	"citeline/evidence"
	"citeline/llm"
)

// EventType tags the variants of the pipeline event stream.
type EventType string

const (
	EventRetrievalStarted   EventType = "retrieval_started"
	EventRetrievalComplete  EventType = "retrieval_complete"
	EventGenerationStarted  EventType = "generation_started"
	EventContentChunk       EventType = "content_chunk"
	EventClaimVerified      EventType = "claim_verified"
	EventLedgerUpdated      EventType = "ledger_updated"
	EventRevisionStarted    EventType = "revision_started"
	EventGenerationComplete EventType = "generation_complete"
	EventError              EventType = "error"
	EventCancelled          EventType = "cancelled"
)

// Metrics summarize one completed run.
type Metrics struct {
	ProcessingMillis int64   `json:"processing_ms"`
	EvidenceCoverage float64 `json:"evidence_coverage"`
	ChunksRetrieved  int     `json:"chunks_retrieved"`
	TotalClaims      int     `json:"total_claims"`
	RevisionCycles   int     `json:"revision_cycles"`
}

// Event is one element of the ordered stream a run emits. Exactly one
// terminal variant (generation_complete, error or cancelled) is emitted per
// run. Fields are populated per Type; unused fields stay zero.
type Event struct {
	Type             EventType        `json:"type"`
	SessionID        string           `json:"session_id,omitempty"`
	Phase            llm.Role         `json:"phase,omitempty"`
	Delta            string           `json:"delta,omitempty"`
	Citations        []string         `json:"citations,omitempty"`
	InvalidCitations []string         `json:"invalid_citations,omitempty"`
	ChunksRetrieved  int              `json:"chunks_retrieved,omitempty"`
	Cycle            int              `json:"cycle,omitempty"`
	Claim            *evidence.Claim  `json:"claim,omitempty"`
	Ledger           *evidence.Ledger `json:"ledger,omitempty"`
	Response         string           `json:"response,omitempty"`
	Metrics          *Metrics         `json:"metrics,omitempty"`
	Message          string           `json:"message,omitempty"`
}

// Sink receives events in emission order. It is called synchronously from
// the run's goroutine: a slow sink blocks the producer, which is the
// intended backpressure behavior. Events are never reordered or dropped.
// A sink error stops the run.
type Sink func(Event) error
