// Package pipeline drives the Writer/Skeptic/Judge verification state
// machine over one query session, streaming ordered events to the caller and
// building the Evidence Ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"citeline/assembly"
	"citeline/evidence"
	"citeline/llm"
	"citeline/retrieval"
)

// DefaultMaxRevisionCycles bounds the revision loop regardless of what the
// judge asks for, to cap latency and cost.
const DefaultMaxRevisionCycles = 2

// Retriever is the retrieval capability the orchestrator depends on;
// *retrieval.Retriever satisfies it, tests substitute fakes.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope retrieval.Scope, opts retrieval.Options) ([]retrieval.RetrievedChunk, error)
}

// Request describes one query session.
type Request struct {
	SessionID   string
	WorkspaceID string
	DocumentIDs []string
	Query       string
}

type Options struct {
	Retrieval         retrieval.Options
	TokenBudget       int
	MaxRevisionCycles int
}

// Orchestrator runs query sessions. Phases execute strictly in sequence; one
// instance may serve concurrent sessions because all per-session state lives
// in Run's frame.
type Orchestrator struct {
	retriever Retriever
	generator llm.Client
	store     SessionStore
	cancels   *CancelRegistry
	logger    *zap.Logger
	opts      Options
}

func New(retriever Retriever, generator llm.Client, store SessionStore, cancels *CancelRegistry, logger *zap.Logger, opts Options) *Orchestrator {
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		store:     store,
		cancels:   cancels,
		logger:    logger,
		opts:      opts,
	}
}

// Cancels exposes the registry so callers can cancel sessions by id.
func (o *Orchestrator) Cancels() *CancelRegistry { return o.cancels }

func (o *Orchestrator) maxRevisions() int {
	if o.opts.MaxRevisionCycles <= 0 {
		return DefaultMaxRevisionCycles
	}
	return o.opts.MaxRevisionCycles
}

// cycleResult is the immutable record of one writer+judge pass. Revision
// cycles build a fresh record instead of mutating shared state.
type cycleResult struct {
	cycle      int
	response   string
	verdict    *judgeOutput
	rawVerdict string
}

var errHalted = errors.New("session halted")

// sinkError wraps an error returned by the caller's sink so it can be told
// apart from a generation failure.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// Run executes one session end to end, emitting events to the sink in
// order. Exactly one terminal event is emitted unless the sink itself
// errors, in which case the run stops silently and returns the sink's error.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Sink) error {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	defer o.cancels.Clear(req.SessionID)

	send := func(ev Event) error {
		ev.SessionID = req.SessionID
		return emit(ev)
	}
	halted := func() bool {
		return o.cancels.Cancelled(req.SessionID) || ctx.Err() != nil
	}
	finishCancelled := func() error {
		o.logger.Info("session cancelled", zap.String("session_id", req.SessionID))
		o.persist(ctx, "mark cancelled", func(pctx context.Context) error {
			return o.store.UpdateStatus(pctx, req.SessionID, "cancelled", "")
		})
		return send(Event{Type: EventCancelled})
	}
	fail := func(err error) error {
		o.logger.Error("pipeline run failed",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		o.persist(ctx, "mark error", func(pctx context.Context) error {
			return o.store.UpdateStatus(pctx, req.SessionID, "error", err.Error())
		})
		_ = send(Event{Type: EventError, Message: err.Error()})
		return err
	}

	o.persist(ctx, "create session", func(pctx context.Context) error {
		return o.store.CreateSession(pctx, req.SessionID, req.WorkspaceID, req.Query)
	})

	// Retrieval.
	if err := send(Event{Type: EventRetrievalStarted}); err != nil {
		return err
	}
	scope := retrieval.Scope{WorkspaceID: req.WorkspaceID, DocumentIDs: req.DocumentIDs}
	chunks, err := o.retriever.Retrieve(ctx, req.Query, scope, o.opts.Retrieval)
	if err != nil {
		return fail(fmt.Errorf("retrieval: %w", err))
	}
	if err := send(Event{Type: EventRetrievalComplete, ChunksRetrieved: len(chunks)}); err != nil {
		return err
	}
	if halted() {
		return finishCancelled()
	}

	// Designed edge case, not an error path: nothing to ground on.
	if len(chunks) == 0 {
		return o.finishNoDocuments(ctx, req, send, start)
	}

	asm := assembly.NewAssembler(o.opts.TokenBudget, o.logger).Assemble(chunks)

	var (
		current   cycleResult
		ledger    *evidence.Ledger
		critique  string
		prior     *cycleResult
		revisions int
	)

	for {
		// Writer, streamed.
		if err := send(Event{Type: EventGenerationStarted, Phase: llm.RoleWriter}); err != nil {
			return err
		}
		draft, err := o.streamWriter(ctx, req, asm, prior, send)
		if err != nil {
			if errors.Is(err, errHalted) {
				return finishCancelled()
			}
			var se *sinkError
			if errors.As(err, &se) {
				return se.err
			}
			return fail(err)
		}
		if halted() {
			return finishCancelled()
		}

		// Skeptic, initial pass only; its critique feeds the judge and is
		// never surfaced.
		if revisions == 0 {
			if err := send(Event{Type: EventGenerationStarted, Phase: llm.RoleSkeptic}); err != nil {
				return err
			}
			critique, err = o.generator.Generate(ctx, llm.RoleSkeptic, skepticMessages(asm.FormattedText, draft))
			if err != nil {
				return fail(fmt.Errorf("skeptic generation: %w", err))
			}
			if halted() {
				return finishCancelled()
			}
		}

		// Judge.
		if err := send(Event{Type: EventGenerationStarted, Phase: llm.RoleJudge}); err != nil {
			return err
		}
		judgeCritique := critique
		if revisions > 0 {
			judgeCritique = ""
		}
		raw, err := o.generator.Generate(ctx, llm.RoleJudge, judgeMessages(asm.FormattedText, draft, judgeCritique))
		if err != nil {
			return fail(fmt.Errorf("judge generation: %w", err))
		}

		verdict, perr := parseJudgeOutput(raw)
		if perr != nil {
			// Availability over correctness: degrade to an empty ledger and
			// the writer's draft instead of aborting the run.
			o.logger.Warn("judge output unparseable, degrading",
				zap.String("session_id", req.SessionID),
				zap.Error(perr))
			verdict = &judgeOutput{VerifiedResponse: draft}
			raw = ""
		}
		if strings.TrimSpace(verdict.VerifiedResponse) == "" {
			verdict.VerifiedResponse = draft
		}

		current = cycleResult{cycle: revisions, response: verdict.VerifiedResponse, verdict: verdict, rawVerdict: raw}
		ledger = verdict.toLedger(req.SessionID)

		// Hallucinated references are a data-quality signal; they ride the
		// ledger so the caller sees them even without watching the stream.
		if bad := invalidCitationTokens(asm, current.response); len(bad) > 0 {
			o.logger.Warn("response cites chunks outside the assembled context",
				zap.String("session_id", req.SessionID),
				zap.Strings("tokens", bad))
			ledger.Flag(evidence.RiskInvalidCitations,
				"citations not present in the assembled sources: "+strings.Join(bad, ", "),
				"medium")
		}

		for i := range ledger.Entries {
			if err := send(Event{Type: EventClaimVerified, Claim: &ledger.Entries[i]}); err != nil {
				return err
			}
		}
		if err := send(Event{Type: EventLedgerUpdated, Ledger: ledger}); err != nil {
			return err
		}
		if halted() {
			return finishCancelled()
		}

		if !verdict.RevisionNeeded || revisions >= o.maxRevisions() {
			break
		}
		revisions++
		if err := send(Event{Type: EventRevisionStarted, Cycle: revisions}); err != nil {
			return err
		}
		p := current
		prior = &p
	}

	o.persist(ctx, "save result", func(pctx context.Context) error {
		return o.store.SaveResult(pctx, req.SessionID, current.response, ledger)
	})

	metrics := &Metrics{
		ProcessingMillis: time.Since(start).Milliseconds(),
		EvidenceCoverage: ledger.Coverage(),
		ChunksRetrieved:  len(chunks),
		TotalClaims:      len(ledger.Entries),
		RevisionCycles:   revisions,
	}
	return send(Event{Type: EventGenerationComplete, Response: current.response, Ledger: ledger, Metrics: metrics})
}

// streamWriter runs the writer phase, forwarding each delta immediately and
// scanning it for citation tokens as a side channel that never blocks the
// stream.
func (o *Orchestrator) streamWriter(ctx context.Context, req Request, asm *assembly.Context, prior *cycleResult, send func(Event) error) (string, error) {
	msgs := writerMessages(req.Query, asm.FormattedText, prior)

	var b strings.Builder
	handle := func(delta string) error {
		if delta == "" {
			return nil
		}
		b.WriteString(delta)
		ev := Event{Type: EventContentChunk, Delta: delta}
		valid, invalid := asm.VerifyCitations(assembly.ExtractCitations(delta))
		for _, c := range valid {
			ev.Citations = append(ev.Citations, c.Token)
		}
		for _, c := range invalid {
			ev.InvalidCitations = append(ev.InvalidCitations, c.Token)
		}
		if err := send(ev); err != nil {
			return &sinkError{err: err}
		}
		if o.cancels.Cancelled(req.SessionID) || ctx.Err() != nil {
			return errHalted
		}
		return nil
	}

	var err error
	if streamer, ok := o.generator.(llm.StreamClient); ok {
		err = streamer.GenerateStream(ctx, llm.RoleWriter, msgs, handle)
	} else {
		var out string
		out, err = o.generator.Generate(ctx, llm.RoleWriter, msgs)
		if err == nil {
			err = handle(out)
		}
	}
	if err != nil {
		var se *sinkError
		if errors.Is(err, errHalted) || errors.As(err, &se) {
			return "", err
		}
		return "", fmt.Errorf("writer generation: %w", err)
	}

	draft := strings.TrimSpace(b.String())
	if draft == "" {
		return "", fmt.Errorf("writer produced no output")
	}
	return draft, nil
}

// invalidCitationTokens returns the deduplicated citation tokens in text
// that fail verification against the assembled context.
func invalidCitationTokens(asm *assembly.Context, text string) []string {
	_, invalid := asm.VerifyCitations(assembly.ExtractCitations(text))
	if len(invalid) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(invalid))
	tokens := make([]string, 0, len(invalid))
	for _, c := range invalid {
		if _, ok := seen[c.Token]; ok {
			continue
		}
		seen[c.Token] = struct{}{}
		tokens = append(tokens, c.Token)
	}
	return tokens
}

func (o *Orchestrator) finishNoDocuments(ctx context.Context, req Request, send func(Event) error, start time.Time) error {
	led := evidence.NewLedger(req.SessionID)
	led.Flag(evidence.RiskNoDocuments, "no documents in scope matched the query", "high")
	led.Recount()

	o.persist(ctx, "save empty result", func(pctx context.Context) error {
		return o.store.SaveResult(pctx, req.SessionID, noDocumentsResponse, led)
	})

	if err := send(Event{Type: EventLedgerUpdated, Ledger: led}); err != nil {
		return err
	}
	metrics := &Metrics{
		ProcessingMillis: time.Since(start).Milliseconds(),
	}
	return send(Event{Type: EventGenerationComplete, Response: noDocumentsResponse, Ledger: led, Metrics: metrics})
}

// persist runs a best-effort storage write: failures are logged and never
// block or abort the user-facing stream. The parent cancellation is stripped
// so a cancelled session can still record its final status.
func (o *Orchestrator) persist(ctx context.Context, op string, fn func(context.Context) error) {
	if o.store == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("persistence failed, continuing",
			zap.String("op", op),
			zap.Error(err))
	}
}
