package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecount(t *testing.T) {
	l := NewLedger("sess-1")
	l.Entries = []Claim{
		{Text: "a", Verdict: VerdictSupported},
		{Text: "b", Verdict: VerdictSupported},
		{Text: "c", Verdict: VerdictWeak},
		{Text: "d", Verdict: VerdictContradicted},
		{Text: "e", Verdict: Verdict("garbage")},
	}
	l.Recount()

	assert.Equal(t, 5, l.Summary.TotalClaims)
	assert.Equal(t, 2, l.Summary.Supported)
	assert.Equal(t, 1, l.Summary.Weak)
	assert.Equal(t, 1, l.Summary.Contradicted)
	assert.Equal(t, 1, l.Summary.NotFound)
	assert.InDelta(t, 0.4, l.Coverage(), 1e-9)
}

func TestCoverageEmptyLedger(t *testing.T) {
	l := NewLedger("sess-1")
	l.Recount()
	assert.Zero(t, l.Coverage())
	assert.Zero(t, l.Summary.TotalClaims)
}

func TestParseFallbacks(t *testing.T) {
	assert.Equal(t, VerdictSupported, ParseVerdict("supported"))
	assert.Equal(t, VerdictNotFound, ParseVerdict("definitely true"))
	assert.Equal(t, ClaimNumeric, ParseClaimType("numeric"))
	assert.Equal(t, ClaimFact, ParseClaimType(""))
	assert.Equal(t, ImportanceCritical, ParseImportance("critical"))
	assert.Equal(t, ImportanceMinor, ParseImportance("unknown"))
}
