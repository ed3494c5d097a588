package domain

import "fmt"

// OverflowPolicy decides what happens to content beyond MaxChunks.
type OverflowPolicy string

const (
	// OverflowTruncate drops trailing chunks beyond MaxChunks (documented
	// data loss, not an error). This is the default.
	OverflowTruncate OverflowPolicy = "truncate"
	// OverflowExtend ignores MaxChunks and keeps every chunk.
	OverflowExtend OverflowPolicy = "extend"
	// OverflowReject refuses the whole document when it exceeds MaxChunks.
	OverflowReject OverflowPolicy = "reject"
)

// ParseOverflowPolicy validates a policy string from configuration.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowTruncate:
		return OverflowTruncate, nil
	case OverflowExtend:
		return OverflowExtend, nil
	case OverflowReject:
		return OverflowReject, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", s)
}

// Chunker splits normalized text into ordered, fixed-maximum-length
// segments. Splitting is character-based, not syntax-aware; lengths are
// counted in runes so multibyte text never breaks mid-character.
type Chunker struct {
	MaxChars  int
	MaxChunks int // 0 = unlimited
	Overflow  OverflowPolicy
}

// Chunk is one bounded slice of a document's normalized text. Index is
// 0-based and order-significant.
type Chunk struct {
	Index int
	Text  string
}

// Split chunks a normalized document. A document no longer than MaxChars
// yields exactly one chunk equal to the whole document. Concatenating the
// returned chunks reconstructs the input exactly, unless the truncate
// policy dropped trailing content.
func (c Chunker) Split(normalized string) ([]Chunk, error) {
	if normalized == "" {
		return nil, ErrEmptyDocument
	}
	if c.MaxChars <= 0 {
		return nil, fmt.Errorf("max chars must be positive, got %d", c.MaxChars)
	}

	runes := []rune(normalized)
	if len(runes) <= c.MaxChars {
		return []Chunk{{Index: 0, Text: normalized}}, nil
	}

	total := (len(runes) + c.MaxChars - 1) / c.MaxChars
	if c.MaxChunks > 0 && total > c.MaxChunks {
		switch c.Overflow {
		case OverflowReject:
			return nil, fmt.Errorf("%w: %d chunks, budget %d", ErrDocumentTooLarge, total, c.MaxChunks)
		case OverflowExtend:
			// keep all chunks
		default:
			total = c.MaxChunks
		}
	}

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * c.MaxChars
		end := start + c.MaxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Index: i, Text: string(runes[start:end])})
	}
	return chunks, nil
}
