package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citeline/evidence"
)

func TestParseJudgeOutputPlainJSON(t *testing.T) {
	out, err := parseJudgeOutput(`{"verified_response": "ok", "revision_needed": true}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.VerifiedResponse)
	assert.True(t, out.RevisionNeeded)
}

func TestParseJudgeOutputFencedJSON(t *testing.T) {
	raw := "Here is my verdict:\n```json\n{\"verified_response\": \"fenced\", \"ledger\": []}\n```\nDone."
	out, err := parseJudgeOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "fenced", out.VerifiedResponse)
}

func TestParseJudgeOutputSurroundingProse(t *testing.T) {
	raw := "Sure! {\"verified_response\": \"embedded\"} hope that helps"
	out, err := parseJudgeOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "embedded", out.VerifiedResponse)
}

func TestParseJudgeOutputNoJSON(t *testing.T) {
	_, err := parseJudgeOutput("I cannot produce a ledger for this.")
	require.Error(t, err)
}

func TestParseJudgeOutputMalformedJSON(t *testing.T) {
	_, err := parseJudgeOutput(`{"verified_response": `)
	require.Error(t, err)
}

func TestToLedgerValidatesFields(t *testing.T) {
	out := &judgeOutput{
		Ledger: []judgeClaim{
			{ClaimText: "valid claim", ClaimType: "policy", Importance: "critical", Verdict: "supported", Confidence: 0.8},
			{ClaimText: "odd labels", ClaimType: "vibes", Importance: "huge", Verdict: "definitely", Confidence: 7.5},
			{ClaimText: "   "}, // dropped
			{ClaimText: "low", Confidence: -3},
		},
		RiskFlags: []judgeRiskFlag{
			{Type: "stale_sources", Description: "policy doc is old", Severity: "low"},
			{Type: ""}, // dropped
		},
	}

	led := out.toLedger("sess")
	require.Len(t, led.Entries, 3)
	assert.Equal(t, "sess", led.SessionID)

	assert.Equal(t, evidence.VerdictSupported, led.Entries[0].Verdict)
	assert.Equal(t, evidence.ClaimPolicy, led.Entries[0].Type)

	odd := led.Entries[1]
	assert.Equal(t, evidence.ClaimFact, odd.Type)
	assert.Equal(t, evidence.ImportanceMinor, odd.Importance)
	assert.Equal(t, evidence.VerdictNotFound, odd.Verdict)
	assert.Equal(t, 1.0, odd.Confidence)

	assert.Equal(t, 0.0, led.Entries[2].Confidence)

	require.Len(t, led.RiskFlags, 1)
	assert.Equal(t, "stale_sources", led.RiskFlags[0].Type)

	assert.Equal(t, 3, led.Summary.TotalClaims)
	assert.Equal(t, 1, led.Summary.Supported)
	assert.Equal(t, 2, led.Summary.NotFound)
}
