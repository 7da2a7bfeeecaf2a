package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"citeline/chunk"
	"citeline/evidence"
	"citeline/llm"
	"citeline/retrieval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubRetriever struct {
	chunks []retrieval.RetrievedChunk
	err    error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ retrieval.Scope, _ retrieval.Options) ([]retrieval.RetrievedChunk, error) {
	return s.chunks, s.err
}

// scriptedLLM returns canned output per role; successive calls to the same
// role walk the script, sticking on the last entry.
type scriptedLLM struct {
	mu      sync.Mutex
	writer  []string
	skeptic string
	judge   []string
	errs    map[llm.Role]error

	writerCalls  int
	skepticCalls int
	judgeCalls   int
}

func (s *scriptedLLM) Generate(_ context.Context, role llm.Role, _ []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[role]; err != nil {
		return "", err
	}
	switch role {
	case llm.RoleWriter:
		out := s.writer[min(s.writerCalls, len(s.writer)-1)]
		s.writerCalls++
		return out, nil
	case llm.RoleSkeptic:
		s.skepticCalls++
		return s.skeptic, nil
	case llm.RoleJudge:
		out := s.judge[min(s.judgeCalls, len(s.judge)-1)]
		s.judgeCalls++
		return out, nil
	}
	return "", fmt.Errorf("unexpected role %q", role)
}

var _ llm.Client = (*scriptedLLM)(nil)

func refundChunk() retrieval.RetrievedChunk {
	return retrieval.RetrievedChunk{
		Chunk: chunk.Chunk{
			Hash:       "abc12345",
			DocumentID: "doc-1",
			Content:    "Refunds are issued within 30 days of a return being received.",
		},
		Filename:   "refund-policy.md",
		Similarity: 0.91,
	}
}

const happyJudgeJSON = `{
	"verified_response": "Refunds are issued within 30 days [cite:abc12345].",
	"ledger": [{
		"claim_text": "Refunds are issued within 30 days.",
		"claim_type": "policy",
		"importance": "material",
		"verdict": "supported",
		"confidence": 0.9,
		"evidence_snippet": "within 30 days of a return",
		"chunk_ids": ["abc12345"],
		"source_tag": "cite:abc12345"
	}],
	"risk_flags": [],
	"revision_needed": false
}`

const revisionJudgeJSON = `{
	"verified_response": "Refunds take some time [cite:abc12345].",
	"ledger": [{
		"claim_text": "Refunds take some time.",
		"claim_type": "policy",
		"importance": "critical",
		"verdict": "not_found",
		"confidence": 0.3
	}],
	"revision_needed": true,
	"revision_instructions": "Cite the exact refund window from the policy."
}`

func collectEvents(events *[]Event) Sink {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func terminalCount(events []Event) int {
	n := 0
	for _, ev := range events {
		switch ev.Type {
		case EventGenerationComplete, EventError, EventCancelled:
			n++
		}
	}
	return n
}

func TestRunHappyPath(t *testing.T) {
	gen := &scriptedLLM{
		writer:  []string{"Refunds are issued within 30 days [cite:abc12345]."},
		skeptic: "No issues found.",
		judge:   []string{happyJudgeJSON},
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s1", WorkspaceID: "ws", Query: "How fast are refunds?"}, collectEvents(&events))
	require.NoError(t, err)

	require.Equal(t, []EventType{
		EventRetrievalStarted,
		EventRetrievalComplete,
		EventGenerationStarted, // writer
		EventContentChunk,
		EventGenerationStarted, // skeptic
		EventGenerationStarted, // judge
		EventClaimVerified,
		EventLedgerUpdated,
		EventGenerationComplete,
	}, eventTypes(events))

	for _, ev := range events {
		assert.Equal(t, "s1", ev.SessionID)
	}

	delta := events[3]
	assert.Contains(t, delta.Delta, "[cite:abc12345]")
	assert.Contains(t, delta.Citations, "[cite:abc12345]")

	final := events[len(events)-1]
	require.NotNil(t, final.Ledger)
	require.NotNil(t, final.Metrics)
	assert.Equal(t, "Refunds are issued within 30 days [cite:abc12345].", final.Response)
	assert.Equal(t, 1, final.Ledger.Summary.Supported)
	assert.Equal(t, 1, final.Ledger.Summary.TotalClaims)
	assert.Equal(t, 1.0, final.Metrics.EvidenceCoverage)
	assert.Equal(t, 1, final.Metrics.ChunksRetrieved)
	assert.Equal(t, 0, final.Metrics.RevisionCycles)
	assert.Equal(t, 1, gen.skepticCalls)
	assert.Equal(t, 1, terminalCount(events))
}

func TestRunFlagsHallucinatedCitations(t *testing.T) {
	draft := "Refunds are instant [cite:deadbeef], per policy [cite:abc12345]."
	judgeJSON := `{
		"verified_response": "Refunds are instant [cite:deadbeef], per policy [cite:abc12345].",
		"ledger": [{
			"claim_text": "Refunds are instant.",
			"claim_type": "policy",
			"importance": "material",
			"verdict": "not_found",
			"confidence": 0.2
		}],
		"revision_needed": false
	}`
	gen := &scriptedLLM{
		writer:  []string{draft},
		skeptic: "The instant-refund claim has no source.",
		judge:   []string{judgeJSON},
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s10", Query: "How fast are refunds?"}, collectEvents(&events))
	require.NoError(t, err)

	var delta *Event
	for i := range events {
		if events[i].Type == EventContentChunk {
			delta = &events[i]
			break
		}
	}
	require.NotNil(t, delta)
	assert.Equal(t, []string{"[cite:abc12345]"}, delta.Citations)
	assert.Equal(t, []string{"[cite:deadbeef]"}, delta.InvalidCitations)

	final := events[len(events)-1]
	require.Equal(t, EventGenerationComplete, final.Type)
	require.Len(t, final.Ledger.RiskFlags, 1)
	flag := final.Ledger.RiskFlags[0]
	assert.Equal(t, evidence.RiskInvalidCitations, flag.Type)
	assert.Contains(t, flag.Description, "[cite:deadbeef]")
	assert.NotContains(t, flag.Description, "[cite:abc12345]")
}

func TestRunNoDocuments(t *testing.T) {
	orch := New(&stubRetriever{}, &scriptedLLM{}, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s2", Query: "anything"}, collectEvents(&events))
	require.NoError(t, err)

	require.Equal(t, []EventType{
		EventRetrievalStarted,
		EventRetrievalComplete,
		EventLedgerUpdated,
		EventGenerationComplete,
	}, eventTypes(events))

	final := events[len(events)-1]
	assert.Equal(t, noDocumentsResponse, final.Response)
	require.NotNil(t, final.Ledger)
	assert.Empty(t, final.Ledger.Entries)
	require.Len(t, final.Ledger.RiskFlags, 1)
	assert.Equal(t, evidence.RiskNoDocuments, final.Ledger.RiskFlags[0].Type)
	assert.Equal(t, "high", final.Ledger.RiskFlags[0].Severity)
	assert.Equal(t, 1, terminalCount(events))
}

func TestRunRevisionLoopBounded(t *testing.T) {
	gen := &scriptedLLM{
		writer:  []string{"Refunds take some time [cite:abc12345]."},
		skeptic: "The refund window is vague.",
		judge:   []string{revisionJudgeJSON}, // always asks for another pass
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s3", Query: "How fast are refunds?"}, collectEvents(&events))
	require.NoError(t, err)

	var revisions []int
	for _, ev := range events {
		if ev.Type == EventRevisionStarted {
			revisions = append(revisions, ev.Cycle)
		}
	}
	assert.Equal(t, []int{1, 2}, revisions)
	assert.Equal(t, 3, gen.writerCalls)
	assert.Equal(t, 1, gen.skepticCalls, "skeptic runs on the initial pass only")
	assert.Equal(t, 3, gen.judgeCalls)

	final := events[len(events)-1]
	require.Equal(t, EventGenerationComplete, final.Type)
	assert.Equal(t, 2, final.Metrics.RevisionCycles)
	assert.Equal(t, 1, terminalCount(events))
}

func TestRunJudgeGarbageDegrades(t *testing.T) {
	draft := "Refunds are issued within 30 days [cite:abc12345]."
	gen := &scriptedLLM{
		writer:  []string{draft},
		skeptic: "Fine.",
		judge:   []string{"I refuse to answer in JSON today."},
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s4", Query: "How fast are refunds?"}, collectEvents(&events))
	require.NoError(t, err)

	final := events[len(events)-1]
	require.Equal(t, EventGenerationComplete, final.Type)
	assert.Equal(t, draft, final.Response, "falls back to the writer draft")
	assert.Empty(t, final.Ledger.Entries)
	assert.Equal(t, 0, final.Metrics.RevisionCycles)
	assert.Equal(t, 1, gen.writerCalls)
}

func TestRunCancelledAfterRetrieval(t *testing.T) {
	gen := &scriptedLLM{
		writer: []string{"should never be emitted"},
		judge:  []string{happyJudgeJSON},
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	var events []Event
	sink := func(ev Event) error {
		events = append(events, ev)
		if ev.Type == EventRetrievalComplete {
			orch.Cancels().Cancel(ev.SessionID)
		}
		return nil
	}

	err := orch.Run(context.Background(), Request{SessionID: "s5", Query: "How fast are refunds?"}, sink)
	require.NoError(t, err)

	require.Equal(t, []EventType{
		EventRetrievalStarted,
		EventRetrievalComplete,
		EventCancelled,
	}, eventTypes(events))
	assert.Equal(t, 0, gen.writerCalls)
	assert.False(t, orch.Cancels().Cancelled("s5"), "flag is cleared after the run")
}

func TestRunWriterFailure(t *testing.T) {
	gen := &scriptedLLM{
		errs: map[llm.Role]error{llm.RoleWriter: errors.New("model unavailable")},
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s6", Query: "q"}, collectEvents(&events))
	require.Error(t, err)

	final := events[len(events)-1]
	require.Equal(t, EventError, final.Type)
	assert.Contains(t, final.Message, "writer generation")
	assert.Equal(t, 1, terminalCount(events))
}

func TestRunRetrievalFailure(t *testing.T) {
	orch := New(&stubRetriever{err: errors.New("db down")}, &scriptedLLM{}, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{SessionID: "s7", Query: "q"}, collectEvents(&events))
	require.Error(t, err)

	require.Equal(t, []EventType{EventRetrievalStarted, EventError}, eventTypes(events))
	assert.Contains(t, events[1].Message, "retrieval")
}

func TestRunSinkErrorStopsRun(t *testing.T) {
	gen := &scriptedLLM{
		writer: []string{"draft [cite:abc12345]"},
		judge:  []string{happyJudgeJSON},
	}
	orch := New(&stubRetriever{chunks: []retrieval.RetrievedChunk{refundChunk()}}, gen, nil, nil, zap.NewNop(), Options{})

	sinkErr := errors.New("client went away")
	calls := 0
	sink := func(Event) error {
		calls++
		if calls >= 3 {
			return sinkErr
		}
		return nil
	}

	err := orch.Run(context.Background(), Request{SessionID: "s8", Query: "q"}, sink)
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 3, calls, "no events after the sink fails")
}

func TestRunEmptyQuery(t *testing.T) {
	orch := New(&stubRetriever{}, &scriptedLLM{}, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{Query: "   "}, collectEvents(&events))
	require.Error(t, err)
	assert.Empty(t, events)
}

func TestRunAssignsSessionID(t *testing.T) {
	orch := New(&stubRetriever{}, &scriptedLLM{}, nil, nil, zap.NewNop(), Options{})

	var events []Event
	err := orch.Run(context.Background(), Request{Query: "q"}, collectEvents(&events))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.NotEmpty(t, events[0].SessionID)
}
