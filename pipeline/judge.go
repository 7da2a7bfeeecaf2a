package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"citeline/evidence"
)

// judgeOutput is the loosely-shaped payload the judge role returns. It is
// parsed tolerantly and validated field by field; anything unrecognized
// falls back to a safe default rather than failing the run.
type judgeOutput struct {
	VerifiedResponse     string          `json:"verified_response"`
	Ledger               []judgeClaim    `json:"ledger"`
	Summary              json.RawMessage `json:"summary"` // recomputed locally, never trusted
	RiskFlags            []judgeRiskFlag `json:"risk_flags"`
	RevisionNeeded       bool            `json:"revision_needed"`
	RevisionInstructions string          `json:"revision_instructions"`
}

type judgeClaim struct {
	ClaimText       string   `json:"claim_text"`
	ClaimType       string   `json:"claim_type"`
	Importance      string   `json:"importance"`
	Verdict         string   `json:"verdict"`
	Confidence      float64  `json:"confidence"`
	EvidenceSnippet string   `json:"evidence_snippet"`
	ChunkIDs        []string `json:"chunk_ids"`
	SourceTag       string   `json:"source_tag"`
	Notes           string   `json:"notes"`
}

type judgeRiskFlag struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// parseJudgeOutput decodes the judge's JSON, tolerating a fenced code block
// wrapper and leading/trailing prose around a single top-level object.
func parseJudgeOutput(raw string) (*judgeOutput, error) {
	body := strings.TrimSpace(raw)

	if start := strings.Index(body, "```"); start >= 0 {
		inner := body[start+3:]
		inner = strings.TrimPrefix(inner, "json")
		if end := strings.Index(inner, "```"); end >= 0 {
			body = inner[:end]
		} else {
			body = inner
		}
		body = strings.TrimSpace(body)
	}

	first := strings.Index(body, "{")
	last := strings.LastIndex(body, "}")
	if first < 0 || last <= first {
		return nil, fmt.Errorf("judge output contains no JSON object")
	}
	body = body[first : last+1]

	var out judgeOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("decode judge output: %w", err)
	}
	return &out, nil
}

// toLedger converts the judge payload into a validated Evidence Ledger with
// a recomputed summary.
func (o *judgeOutput) toLedger(sessionID string) *evidence.Ledger {
	led := evidence.NewLedger(sessionID)

	for _, jc := range o.Ledger {
		text := strings.TrimSpace(jc.ClaimText)
		if text == "" {
			continue
		}
		conf := jc.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		led.Entries = append(led.Entries, evidence.Claim{
			Text:            text,
			Type:            evidence.ParseClaimType(jc.ClaimType),
			Importance:      evidence.ParseImportance(jc.Importance),
			Verdict:         evidence.ParseVerdict(jc.Verdict),
			Confidence:      conf,
			EvidenceSnippet: jc.EvidenceSnippet,
			ChunkIDs:        jc.ChunkIDs,
			SourceTag:       jc.SourceTag,
			Notes:           jc.Notes,
		})
	}

	for _, rf := range o.RiskFlags {
		if rf.Type == "" {
			continue
		}
		led.Flag(rf.Type, rf.Description, rf.Severity)
	}

	led.Recount()
	return led
}
