package assembly

import (
	"regexp"
	"strconv"
)

// CitationKind discriminates the three token shapes embedded in generated
// text.
type CitationKind string

const (
	// CitationHash is the legacy [cite:XXXXXXXX] form with an 8-char
	// lowercase-hex chunk hash.
	CitationHash CitationKind = "hash"
	// CitationOrdinal is [cite:N] indexing the context chunks 1-based.
	CitationOrdinal CitationKind = "ordinal"
	// CitationLLM is [llm:writer|skeptic|judge], explicit unsourced knowledge.
	CitationLLM CitationKind = "llm"
)

// Citation is one extracted token.
type Citation struct {
	Token   string
	Kind    CitationKind
	Hash    string // hash form, or resolved from a valid ordinal
	Ordinal int    // 1-based, ordinal form only
	Source  string // llm form: writer, skeptic or judge
}

var citationToken = regexp.MustCompile(`\[(cite|llm):([a-z0-9]+)\]`)

var (
	hexHash  = regexp.MustCompile(`^[0-9a-f]{8}$`)
	ordinal  = regexp.MustCompile(`^[0-9]{1,4}$`)
	llmRoles = map[string]bool{"writer": true, "skeptic": true, "judge": true}
)

// ExtractCitations scans arbitrary text for citation tokens. Tokens that
// match the bracket shape but none of the three grammars are ignored.
func ExtractCitations(text string) []Citation {
	matches := citationToken.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	cites := make([]Citation, 0, len(matches))
	for _, m := range matches {
		token, prefix, value := m[0], m[1], m[2]
		switch {
		case prefix == "llm" && llmRoles[value]:
			cites = append(cites, Citation{Token: token, Kind: CitationLLM, Source: value})
		case prefix == "cite" && hexHash.MatchString(value):
			cites = append(cites, Citation{Token: token, Kind: CitationHash, Hash: value})
		case prefix == "cite" && ordinal.MatchString(value):
			n, _ := strconv.Atoi(value)
			cites = append(cites, Citation{Token: token, Kind: CitationOrdinal, Ordinal: n})
		}
	}
	return cites
}

// VerifyCitations partitions the citations into valid and invalid against
// this context. Hash citations must name a chunk in the map; ordinals must
// index a selected chunk (1-based) and are resolved to its hash; llm tokens
// are always valid. Both partitions are reported: an invalid citation is a
// hallucinated reference, a data-quality signal that must not be dropped.
// |valid| + |invalid| always equals the input size.
func (c *Context) VerifyCitations(cites []Citation) (valid, invalid []Citation) {
	valid = make([]Citation, 0, len(cites))
	invalid = make([]Citation, 0)

	for _, cite := range cites {
		switch cite.Kind {
		case CitationLLM:
			valid = append(valid, cite)
		case CitationHash:
			if _, ok := c.ChunkMap[cite.Hash]; ok {
				valid = append(valid, cite)
			} else {
				invalid = append(invalid, cite)
			}
		case CitationOrdinal:
			if cite.Ordinal >= 1 && cite.Ordinal <= len(c.SelectedChunks) {
				cite.Hash = c.SelectedChunks[cite.Ordinal-1].Hash
				valid = append(valid, cite)
			} else {
				invalid = append(invalid, cite)
			}
		default:
			invalid = append(invalid, cite)
		}
	}
	return valid, invalid
}
