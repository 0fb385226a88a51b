// Package chunker splits section text into overlapping chunks for embedding.
//
// Splitting prefers paragraph breaks, then line breaks, then sentence ends,
// then spaces, and only cuts inside a word when nothing else fits. Output is
// a pure function of (content, size, overlap), so chunk IDs derived from it
// are stable and re-indexing unchanged content overwrites its old entries.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// ErrInvalidSize is returned for a non-positive size or an overlap outside
// [0, size).
var ErrInvalidSize = errors.New("invalid chunk size or overlap")

// Separators in priority order. The empty separator cuts between runes.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Default sizes in runes.
const (
	DefaultSize      = 500
	DefaultOverlap   = 100
	SummarySize      = 300
	SummaryOverlap   = 50
	HierarchySize    = 1000
	HierarchyOverlap = 200
)

// Chunk is one piece of a section, in document order.
type Chunk struct {
	Index int
	Text  string
}

// Split divides content into chunks of at most size runes where a natural
// boundary allows, repeating up to overlap runes between neighbours.
// Whitespace-only content yields no chunks.
func Split(content string, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidSize, size, overlap)
	}
	if strings.TrimSpace(content) == "" {
		return []Chunk{}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(Separators),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	texts, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	chunks := make([]Chunk, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text})
	}
	return chunks, nil
}

// ChunkID is the vector entry ID of chunk i of a section.
func ChunkID(sectionID string, i int) string {
	return fmt.Sprintf("%s_chunk%d", sectionID, i)
}

// Words counts whitespace-separated words.
func Words(content string) int {
	return len(strings.Fields(content))
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
