package assembly

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citeline/chunk"
	"citeline/retrieval"
)

func retrieved(hash, docID, filename, content string, sim float64) retrieval.RetrievedChunk {
	return retrieval.RetrievedChunk{
		Chunk:      chunk.Chunk{Hash: hash, DocumentID: docID, Content: content, PageNumber: 1},
		Filename:   filename,
		Similarity: sim,
	}
}

func TestAssembleRespectsBudget(t *testing.T) {
	// Each chunk estimates to 100 tokens (400 chars).
	content := strings.Repeat("x", 400)
	chunks := []retrieval.RetrievedChunk{
		retrieved("aaaa0001", "d1", "a.md", content, 0.9),
		retrieved("aaaa0002", "d1", "a.md", content, 0.8),
		retrieved("aaaa0003", "d2", "b.md", content, 0.7),
	}

	ctx := NewAssembler(250, nil).Assemble(chunks)

	assert.Len(t, ctx.SelectedChunks, 2)
	assert.LessOrEqual(t, ctx.TotalTokensEstimate, 250)
	assert.Contains(t, ctx.ChunkMap, "aaaa0001")
	assert.Contains(t, ctx.ChunkMap, "aaaa0002")
	assert.NotContains(t, ctx.ChunkMap, "aaaa0003")
}

func TestAssembleFormatsGroupedSources(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		retrieved("aaaa0001", "d1", "handbook.md", "Vacation accrues monthly.", 0.92),
		retrieved("aaaa0002", "d2", "policy.pdf", "Refunds within 30 days.", 0.85),
		retrieved("aaaa0003", "d1", "handbook.md", "Sick leave is separate.", 0.61),
	}

	ctx := NewAssembler(0, nil).Assemble(chunks)

	assert.Contains(t, ctx.FormattedText, "=== Source: handbook.md ===")
	assert.Contains(t, ctx.FormattedText, "=== Source: policy.pdf ===")
	for _, h := range []string{"aaaa0001", "aaaa0002", "aaaa0003"} {
		assert.Contains(t, ctx.FormattedText, "[chunk "+h)
		assert.Contains(t, ctx.FormattedText, h)
	}
	assert.Contains(t, ctx.FormattedText, "CITATION RULES:")
	assert.Contains(t, ctx.FormattedText, "[llm:writer]")
}

func TestAssembleEmptyStatesNoSources(t *testing.T) {
	ctx := NewAssembler(0, nil).Assemble(nil)

	assert.Empty(t, ctx.SelectedChunks)
	assert.Zero(t, ctx.TotalTokensEstimate)
	assert.Contains(t, ctx.FormattedText, "NO SOURCES AVAILABLE")
	assert.Contains(t, ctx.FormattedText, "Do not fabricate citations")
}

func TestExtractCitations(t *testing.T) {
	text := "Refunds take 30 days [cite:abc12345]. See item [cite:2]. " +
		"From general knowledge [llm:writer]. Bogus [cite:nothex!] and [llm:oracle]."

	cites := ExtractCitations(text)
	require.Len(t, cites, 3)

	assert.Equal(t, CitationHash, cites[0].Kind)
	assert.Equal(t, "abc12345", cites[0].Hash)
	assert.Equal(t, CitationOrdinal, cites[1].Kind)
	assert.Equal(t, 2, cites[1].Ordinal)
	assert.Equal(t, CitationLLM, cites[2].Kind)
	assert.Equal(t, "writer", cites[2].Source)
}

func TestExtractCitationsNone(t *testing.T) {
	assert.Empty(t, ExtractCitations("plain text without tokens"))
}

func TestVerifyCitationsPartition(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		retrieved("abc12345", "d1", "a.md", "refund text", 0.9),
		retrieved("def67890", "d1", "a.md", "other text", 0.8),
	}
	ctx := NewAssembler(0, nil).Assemble(chunks)

	cites := ExtractCitations("[cite:abc12345] [cite:99999999] [cite:1] [cite:7] [llm:judge]")
	require.Len(t, cites, 5)

	valid, invalid := ctx.VerifyCitations(cites)

	assert.Equal(t, len(cites), len(valid)+len(invalid))
	assert.Len(t, valid, 3)
	assert.Len(t, invalid, 2)

	// The valid ordinal resolves to the first selected chunk's hash.
	var resolved bool
	for _, c := range valid {
		if c.Kind == CitationOrdinal {
			assert.Equal(t, "abc12345", c.Hash)
			resolved = true
		}
	}
	assert.True(t, resolved)
}

func TestVerifyCitationsEmptyContext(t *testing.T) {
	ctx := NewAssembler(0, nil).Assemble(nil)
	cites := ExtractCitations("[cite:abc12345] [llm:writer]")
	valid, invalid := ctx.VerifyCitations(cites)
	assert.Len(t, valid, 1) // llm attribution stays valid with no sources
	assert.Len(t, invalid, 1)
}
