package pipeline

import (
	"fmt"
	"strings"

	"citeline/llm"
)

func writerSystemPrompt() string {
	return "You are a careful research writer. Answer the user's question using only the " +
		"supplied source excerpts. Attach a citation token immediately after every factual " +
		"statement: [cite:HASH] for a statement grounded in a listed chunk, [llm:writer] for " +
		"a statement from your own knowledge. Follow the CITATION RULES in the context " +
		"exactly. Answer in markdown, direct answer first."
}

func writerMessages(query, contextText string, prior *cycleResult) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nSources:\n")
	sb.WriteString(contextText)

	if prior != nil && prior.verdict != nil {
		sb.WriteString("\n\nYour previous draft was reviewed and needs revision.\n")
		sb.WriteString("Previous draft:\n")
		sb.WriteString(prior.response)
		sb.WriteString("\n\nReviewer verdict (JSON):\n")
		sb.WriteString(prior.rawVerdict)
		if prior.verdict.RevisionInstructions != "" {
			sb.WriteString("\n\nRevision instructions:\n")
			sb.WriteString(prior.verdict.RevisionInstructions)
		}
		sb.WriteString("\n\nProduce a corrected draft that fixes every flagged claim while keeping correct content.")
	}

	return []llm.Message{
		{Role: llm.MessageSystem, Content: writerSystemPrompt()},
		{Role: llm.MessageUser, Content: sb.String()},
	}
}

func skepticMessages(contextText, draft string) []llm.Message {
	system := "You are a skeptical reviewer. Your critique is consumed by a verification " +
		"judge, never shown to the user. Examine the draft against the source excerpts and " +
		"list: claims lacking support, citations pointing at chunks that do not say what is " +
		"claimed, numbers or dates that differ from the sources, and statements contradicted " +
		"by the sources. Be terse and concrete; quote the offending passage for each issue."

	user := fmt.Sprintf("Sources:\n%s\n\nDraft under review:\n%s", contextText, draft)

	return []llm.Message{
		{Role: llm.MessageSystem, Content: system},
		{Role: llm.MessageUser, Content: user},
	}
}

func judgeMessages(contextText, draft, critique string) []llm.Message {
	system := "You are a verification judge producing an evidence ledger. Respond with a " +
		"single JSON object and nothing else, shaped as:\n" +
		`{"verified_response": "...", "ledger": [{"claim_text": "...", ` +
		`"claim_type": "fact|policy|numeric|definition|scientific|historical|legal", ` +
		`"importance": "critical|material|minor", ` +
		`"verdict": "supported|weak|contradicted|not_found|expert_verified|conflict_flagged", ` +
		`"confidence": 0.0, "evidence_snippet": "...", "chunk_ids": ["hash"], ` +
		`"source_tag": "cite:hash or llm:writer", "notes": "..."}], ` +
		`"risk_flags": [{"type": "...", "description": "...", "severity": "low|medium|high"}], ` +
		`"revision_needed": false, "revision_instructions": ""}` + "\n" +
		"Extract every factual claim from the draft, judge it against the sources, and set " +
		"revision_needed to true only when a critical or material claim is contradicted or " +
		"unsupported. verified_response is the draft with any strictly necessary corrections."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sources:\n%s\n\nDraft to verify:\n%s", contextText, draft)
	if critique != "" {
		fmt.Fprintf(&sb, "\n\nSkeptic critique:\n%s", critique)
	}

	return []llm.Message{
		{Role: llm.MessageSystem, Content: system},
		{Role: llm.MessageUser, Content: sb.String()},
	}
}

// noDocumentsResponse is the templated answer for the designed zero-chunk
// short-circuit.
const noDocumentsResponse = "I could not find any relevant documents in this workspace for your " +
	"question, so I cannot give a grounded answer. Try rephrasing the question, or add the " +
	"documents that cover this topic and ask again."
