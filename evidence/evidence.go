// Package evidence holds the ledger types shared between the pipeline and
// its callers: claims, verdicts, risk flags and the per-session Evidence
// Ledger that records how every claim in a response is supported.
package evidence

// Verdict classifies how well a claim is supported by retrieved evidence.
type Verdict string

const (
	VerdictSupported      Verdict = "supported"
	VerdictWeak           Verdict = "weak"
	VerdictContradicted   Verdict = "contradicted"
	VerdictNotFound       Verdict = "not_found"
	VerdictExpertVerified Verdict = "expert_verified"
	VerdictConflict       Verdict = "conflict_flagged"
)

// ParseVerdict maps free-form judge output onto a known verdict, falling
// back to not_found for anything unrecognized.
func ParseVerdict(s string) Verdict {
	switch Verdict(s) {
	case VerdictSupported, VerdictWeak, VerdictContradicted, VerdictNotFound, VerdictExpertVerified, VerdictConflict:
		return Verdict(s)
	default:
		return VerdictNotFound
	}
}

// ClaimType categorizes the kind of assertion a claim makes.
type ClaimType string

const (
	ClaimFact       ClaimType = "fact"
	ClaimPolicy     ClaimType = "policy"
	ClaimNumeric    ClaimType = "numeric"
	ClaimDefinition ClaimType = "definition"
	ClaimScientific ClaimType = "scientific"
	ClaimHistorical ClaimType = "historical"
	ClaimLegal      ClaimType = "legal"
)

func ParseClaimType(s string) ClaimType {
	switch ClaimType(s) {
	case ClaimFact, ClaimPolicy, ClaimNumeric, ClaimDefinition, ClaimScientific, ClaimHistorical, ClaimLegal:
		return ClaimType(s)
	default:
		return ClaimFact
	}
}

// Importance grades how much a claim matters to the response.
type Importance string

const (
	ImportanceCritical Importance = "critical"
	ImportanceMaterial Importance = "material"
	ImportanceMinor    Importance = "minor"
)

func ParseImportance(s string) Importance {
	switch Importance(s) {
	case ImportanceCritical, ImportanceMaterial, ImportanceMinor:
		return Importance(s)
	default:
		return ImportanceMinor
	}
}

// Claim is one ledger entry: a factual statement extracted from the response
// together with its verification outcome.
type Claim struct {
	Text            string     `json:"claim_text"`
	Type            ClaimType  `json:"claim_type"`
	Importance      Importance `json:"importance"`
	Verdict         Verdict    `json:"verdict"`
	Confidence      float64    `json:"confidence"`
	EvidenceSnippet string     `json:"evidence_snippet,omitempty"`
	ChunkIDs        []string   `json:"chunk_ids,omitempty"`
	SourceTag       string     `json:"source_tag,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// RiskFlag is a ledger-level annotation for a systemic concern not tied to a
// single claim.
type RiskFlag struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// RiskNoDocuments is raised when retrieval finds nothing to ground on.
const RiskNoDocuments = "no_documents"

// RiskInvalidCitations is raised when the response cites chunks that are not
// part of the assembled context.
const RiskInvalidCitations = "invalid_citations"

// Summary counts ledger entries per verdict.
type Summary struct {
	Supported       int `json:"supported"`
	Weak            int `json:"weak"`
	Contradicted    int `json:"contradicted"`
	NotFound        int `json:"not_found"`
	ExpertVerified  int `json:"expert_verified"`
	ConflictFlagged int `json:"conflict_flagged"`
	TotalClaims     int `json:"total_claims"`
}

// Ledger is the structured record of every claim in a response. It is
// rebuilt on each judge pass; only the last pass is final.
type Ledger struct {
	SessionID string     `json:"session_id"`
	Summary   Summary    `json:"summary"`
	Entries   []Claim    `json:"entries"`
	RiskFlags []RiskFlag `json:"risk_flags,omitempty"`
}

func NewLedger(sessionID string) *Ledger {
	return &Ledger{SessionID: sessionID, Entries: []Claim{}}
}

// Recount rebuilds the summary from the entries.
func (l *Ledger) Recount() {
	s := Summary{TotalClaims: len(l.Entries)}
	for _, c := range l.Entries {
		switch c.Verdict {
		case VerdictSupported:
			s.Supported++
		case VerdictWeak:
			s.Weak++
		case VerdictContradicted:
			s.Contradicted++
		case VerdictExpertVerified:
			s.ExpertVerified++
		case VerdictConflict:
			s.ConflictFlagged++
		default:
			s.NotFound++
		}
	}
	l.Summary = s
}

// Coverage is the fraction of claims judged supported or expert verified.
func (l *Ledger) Coverage() float64 {
	if len(l.Entries) == 0 {
		return 0
	}
	return float64(l.Summary.Supported+l.Summary.ExpertVerified) / float64(len(l.Entries))
}

// Flag appends a risk flag.
func (l *Ledger) Flag(kind, description, severity string) {
	l.RiskFlags = append(l.RiskFlags, RiskFlag{Type: kind, Description: description, Severity: severity})
}
