package domain

import "strings"

// commentPrefixes are the single-line comment markers recognized across the
// indexed language groups (Python-style and C-family).
var commentPrefixes = []string{"#", "//"}

// Normalize reduces raw source text to its comparison-stable form: blank
// lines and pure single-line comments are dropped, every retained line is
// trimmed. The result is what fingerprints and embeddings are computed over,
// so whitespace and comment churn never changes either.
//
// Normalize is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(code string) string {
	var b strings.Builder
	b.Grow(len(code))

	first := true
	for _, line := range strings.Split(code, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if isCommentLine(stripped) {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		b.WriteString(stripped)
		first = false
	}
	return b.String()
}

func isCommentLine(stripped string) bool {
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(stripped, prefix) {
			return true
		}
	}
	return false
}
