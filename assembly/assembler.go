// Package assembly packs retrieved chunks into a token-budgeted prompt
// context and handles the citation tokens generated against it.
package assembly

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"citeline/retrieval"
)

// DefaultTokenBudget is the context budget in estimated tokens.
const DefaultTokenBudget = 50000

// Context is the assembled prompt block for one query or revision attempt.
type Context struct {
	FormattedText       string
	SelectedChunks      []retrieval.RetrievedChunk
	ChunkMap            map[string]retrieval.RetrievedChunk
	TotalTokensEstimate int
}

// EstimateTokens approximates token count as chars/4.
func EstimateTokens(s string) int {
	return len(s) / 4
}

type Assembler struct {
	budget int
	logger *zap.Logger
}

func NewAssembler(budget int, logger *zap.Logger) *Assembler {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{budget: budget, logger: logger}
}

// Assemble greedily accepts chunks in the given (similarity) order until the
// next chunk would exceed the budget, then stops. Overflow is never an
// error; the context simply uses fewer chunks.
func (a *Assembler) Assemble(chunks []retrieval.RetrievedChunk) *Context {
	selected := make([]retrieval.RetrievedChunk, 0, len(chunks))
	chunkMap := make(map[string]retrieval.RetrievedChunk, len(chunks))
	total := 0

	for _, rc := range chunks {
		cost := EstimateTokens(rc.Content)
		if total+cost > a.budget {
			a.logger.Debug("token budget reached",
				zap.Int("selected", len(selected)),
				zap.Int("dropped", len(chunks)-len(selected)))
			break
		}
		total += cost
		selected = append(selected, rc)
		chunkMap[rc.Hash] = rc
	}

	return &Context{
		FormattedText:       formatContext(selected),
		SelectedChunks:      selected,
		ChunkMap:            chunkMap,
		TotalTokensEstimate: total,
	}
}

func formatContext(selected []retrieval.RetrievedChunk) string {
	if len(selected) == 0 {
		return noSourcesText
	}

	// Group by document, keeping documents in first-seen (similarity) order.
	order := make([]string, 0)
	grouped := make(map[string][]retrieval.RetrievedChunk)
	names := make(map[string]string)
	for _, rc := range selected {
		if _, ok := grouped[rc.DocumentID]; !ok {
			order = append(order, rc.DocumentID)
			names[rc.DocumentID] = rc.Filename
		}
		grouped[rc.DocumentID] = append(grouped[rc.DocumentID], rc)
	}

	var sb strings.Builder
	for _, docID := range order {
		fmt.Fprintf(&sb, "=== Source: %s ===\n", names[docID])
		for _, rc := range grouped[docID] {
			fmt.Fprintf(&sb, "[chunk %s | %s | similarity %.2f]\n", rc.Hash, location(rc), rc.Similarity)
			sb.WriteString(rc.Content)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString(citationInstructions(selected))
	return sb.String()
}

func location(rc retrieval.RetrievedChunk) string {
	if rc.PageNumber > 0 {
		return fmt.Sprintf("page %d", rc.PageNumber)
	}
	if len(rc.HeadingPath) > 0 {
		return "section " + strings.Join(rc.HeadingPath, " > ")
	}
	return fmt.Sprintf("chunk %d", rc.Index)
}

func citationInstructions(selected []retrieval.RetrievedChunk) string {
	hashes := make([]string, len(selected))
	for i, rc := range selected {
		hashes[i] = rc.Hash
	}

	var sb strings.Builder
	sb.WriteString("CITATION RULES:\n")
	sb.WriteString("Cite every factual statement with a bracket token immediately after it.\n")
	sb.WriteString("Use [cite:HASH] with one of these chunk hashes: ")
	sb.WriteString(strings.Join(hashes, ", "))
	sb.WriteString(".\n")
	sb.WriteString("Use [llm:writer] for statements from your own knowledge rather than the sources.\n")
	sb.WriteString("Never invent a hash that is not listed above.\n")
	return sb.String()
}

const noSourcesText = "NO SOURCES AVAILABLE.\n" +
	"No documents in this workspace matched the query. Do not fabricate citations; " +
	"if you answer from general knowledge, mark each statement with [llm:writer] and " +
	"say clearly that the workspace documents do not cover the question.\n"
