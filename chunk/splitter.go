package chunk

import "strings"

const (
	defaultTargetSize = 1500
	defaultOverlap    = 100
	defaultMinSize    = 100
	defaultLookahead  = 200
)

// Options control how pages are windowed into chunks.
type Options struct {
	TargetSize int
	Overlap    int
	MinSize    int
	Lookahead  int
}

func (o Options) withDefaults() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = defaultTargetSize
	}
	if o.Overlap <= 0 {
		o.Overlap = defaultOverlap
	}
	if o.MinSize <= 0 {
		o.MinSize = defaultMinSize
	}
	if o.Lookahead <= 0 {
		o.Lookahead = defaultLookahead
	}
	return o
}

// Split windows each page into overlapping chunks, preferring to break at a
// paragraph boundary, then a sentence end, then a newline, then whitespace,
// searched within the lookahead window past the ideal end. Chunks shorter
// than MinSize are dropped. An empty result means the document produced no
// usable text; it is not an error.
//
// Chunk indexes increase monotonically across the whole document and offsets
// are document-global, so they are non-decreasing across pages.
func Split(documentID string, pages []Page, opts Options) []Chunk {
	opts = opts.withDefaults()

	chunks := make([]Chunk, 0)
	index := 0
	base := 0

	for _, page := range pages {
		text := page.Text
		start := 0
		for start < len(text) {
			end := len(text)
			if start+opts.TargetSize < len(text) {
				end = findBreak(text, start+opts.TargetSize, opts.Lookahead)
			}

			content := strings.TrimSpace(text[start:end])
			if len(content) >= opts.MinSize {
				chunks = append(chunks, Chunk{
					Hash:        Hash(content),
					DocumentID:  documentID,
					Content:     content,
					Index:       index,
					PageNumber:  page.Number,
					HeadingPath: headingPath(text, start),
					StartOffset: base + start,
					EndOffset:   base + end,
				})
				index++
			}

			if end >= len(text) {
				break
			}

			next := end - opts.Overlap
			if next <= start {
				next = end
			}
			// Stop once the remainder after overlap can no longer form a
			// chunk of minimum size.
			if len(text)-next < opts.MinSize {
				break
			}
			start = next
		}
		base += len(text)
	}

	return chunks
}

// findBreak returns the break position at or after ideal, scanning up to
// lookahead bytes for the best boundary. Falls back to a hard break at ideal.
func findBreak(text string, ideal, lookahead int) int {
	limit := ideal + lookahead
	if limit > len(text) {
		limit = len(text)
	}
	window := text[ideal:limit]

	if i := strings.Index(window, "\n\n"); i >= 0 {
		return ideal + i
	}
	for i := 0; i < len(window)-1; i++ {
		c := window[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(window[i+1]) {
			return ideal + i + 1
		}
	}
	if i := strings.IndexByte(window, '\n'); i >= 0 {
		return ideal + i
	}
	if i := strings.IndexAny(window, " \t"); i >= 0 {
		return ideal + i
	}
	return ideal
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
