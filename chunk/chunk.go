package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Page is one unit of extracted document text. Number is 1-based; 0 means
// the source format has no page numbers.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded, content-addressed slice of a document. The hash is
// computed over normalized content so identical text always produces the
// same citation target regardless of chunking boundaries.
type Chunk struct {
	Hash        string
	DocumentID  string
	Content     string
	Index       int
	PageNumber  int
	HeadingPath []string
	StartOffset int
	EndOffset   int
}

// Hash returns the 8-character lowercase hex content hash used in citation
// tokens.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:4])
}

// Normalize lowercases and collapses all whitespace runs to single spaces.
func Normalize(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}
