package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("notes/handbook.md"))
	assert.True(t, Supported("report.PDF"))
	assert.True(t, Supported("plain.txt"))
	assert.False(t, Supported("image.png"))
	assert.False(t, Supported("archive.tar.gz"))
}

func TestTextPagesSingle(t *testing.T) {
	pages := textPages("line one\r\nline two")
	require.Len(t, pages, 1)
	assert.Equal(t, 0, pages[0].Number)
	assert.Equal(t, "line one\nline two", pages[0].Text)
}

func TestTextPagesFormFeed(t *testing.T) {
	pages := textPages("first page\fsecond page\fthird page")
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 3, pages[2].Number)
	assert.Equal(t, "second page", pages[1].Text)
}

func TestPagesUnsupportedFormat(t *testing.T) {
	_, err := Pages("diagram.svg", []byte("<svg/>"))
	require.Error(t, err)
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Employee Handbook", ExtractTitle("intro\n## Employee Handbook\ntext", "fallback.md"))
	assert.Equal(t, "fallback.md", ExtractTitle("no headings here", "fallback.md"))
	assert.Equal(t, "fallback.md", ExtractTitle("#   \nbody", "fallback.md"), "empty heading falls through")
}
