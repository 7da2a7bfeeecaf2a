package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	maxHeadingAncestors = 3
	maxHeadingLookback  = 40
)

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S.*$`)
	markerHeading   = regexp.MustCompile(`^(?i)(chapter|section|part|appendix)\b[\s\d.:]*\S?.*$`)
)

// headingPath scans backward from the chunk start for lines that look like
// headings: markdown headers, numbered sections, Chapter/Section/Part
// markers, or short title-case lines. At most three ancestors are returned,
// nearest first. This is a line-pattern heuristic, not an outline parser.
func headingPath(text string, start int) []string {
	lines := strings.Split(text[:start], "\n")

	path := make([]string, 0, maxHeadingAncestors)
	scanned := 0
	for i := len(lines) - 1; i >= 0 && scanned < maxHeadingLookback; i-- {
		scanned++
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		title, ok := headingTitle(line)
		if !ok {
			continue
		}
		path = append(path, title)
		if len(path) == maxHeadingAncestors {
			break
		}
	}
	if len(path) == 0 {
		return nil
	}
	return path
}

func headingTitle(line string) (string, bool) {
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[2]), true
	}
	if len(line) > 80 || strings.HasSuffix(line, ".") {
		return "", false
	}
	if numberedHeading.MatchString(line) || markerHeading.MatchString(line) {
		return line, true
	}
	if isTitleCase(line) {
		return line, true
	}
	return "", false
}

// isTitleCase reports whether most words of a short line start uppercase.
func isTitleCase(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	upper := 0
	for _, w := range words {
		r := []rune(w)[0]
		if unicode.IsUpper(r) {
			upper++
		} else if unicode.IsDigit(r) || unicode.IsPunct(r) {
			return false
		}
	}
	return upper*2 > len(words)
}
