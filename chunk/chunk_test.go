package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{8}$`)

func samplePages() []Page {
	var sb strings.Builder
	sb.WriteString("# Billing Policy\n\n## Refunds\n\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "Refunds may be requested within 30 days of purchase, case %d. ", i)
	}
	page2 := strings.Repeat("Support tickets are answered within two business days. ", 25)
	return []Page{
		{Number: 1, Text: sb.String()},
		{Number: 2, Text: page2},
	}
}

func TestSplitDeterministicHashes(t *testing.T) {
	pages := samplePages()
	first := Split("doc-1", pages, Options{})
	second := Split("doc-1", pages, Options{})

	require.NotEmpty(t, first)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Hash, second[i].Hash)
		assert.Regexp(t, hexHash, first[i].Hash)
	}
}

func TestSplitOffsetsAndIndexesMonotonic(t *testing.T) {
	chunks := Split("doc-1", samplePages(), Options{TargetSize: 300, Overlap: 40, MinSize: 80})
	require.Greater(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].Index+1, chunks[i].Index)
		assert.GreaterOrEqual(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
		assert.GreaterOrEqual(t, chunks[i].EndOffset, chunks[i-1].EndOffset)
	}
	for _, c := range chunks {
		assert.Less(t, c.StartOffset, c.EndOffset)
	}
}

func TestSplitOverlapProducesSharedText(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	chunks := Split("doc-1", []Page{{Number: 1, Text: text}}, Options{TargetSize: 200, Overlap: 50, MinSize: 60})
	require.Greater(t, len(chunks), 1)
	assert.NotEqual(t, chunks[0].Content, chunks[1].Content)
	// The second window starts before the first one ends.
	assert.Less(t, chunks[1].StartOffset, chunks[0].EndOffset)
}

func TestSplitDropsShortChunks(t *testing.T) {
	chunks := Split("doc-1", []Page{{Number: 1, Text: "too short"}}, Options{})
	assert.Empty(t, chunks)
}

func TestSplitEmptyInput(t *testing.T) {
	assert.Empty(t, Split("doc-1", nil, Options{}))
	assert.Empty(t, Split("doc-1", []Page{{Number: 1, Text: "   \n\n  "}}, Options{}))
}

func TestHashNormalization(t *testing.T) {
	a := Hash("Refunds  May\tbe Requested\nwithin 30 days")
	b := Hash("refunds may be requested within 30 days")
	assert.Equal(t, a, b)
	assert.Regexp(t, hexHash, a)
}

func TestHeadingPathNearestFirst(t *testing.T) {
	body := strings.Repeat("Policy text that fills the opening chunk completely. ", 10)
	text := "# Handbook\n\n## Time Off\n\n### Parental Leave\n\n" + body
	chunks := Split("doc-1", []Page{{Number: 1, Text: text}}, Options{TargetSize: 200, Overlap: 20, MinSize: 60})
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	require.NotEmpty(t, last.HeadingPath)
	assert.LessOrEqual(t, len(last.HeadingPath), 3)
	assert.Equal(t, "Parental Leave", last.HeadingPath[0])
}

func TestSplitKeepsPageNumbers(t *testing.T) {
	chunks := Split("doc-1", samplePages(), Options{TargetSize: 300, Overlap: 30, MinSize: 80})
	require.NotEmpty(t, chunks)
	pages := map[int]bool{}
	for _, c := range chunks {
		pages[c.PageNumber] = true
	}
	assert.True(t, pages[1])
	assert.True(t, pages[2])
}
