package indexing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/scribe/internal/chunker"
)

// Section is one editable part of a document.
type Section struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`

	// Summary is empty until the section is long enough to summarize.
	Summary string `json:"summary,omitempty"`

	// SummaryHash is the ContentHash of the content Summary was made from.
	SummaryHash string `json:"summary_hash,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Length and NumWords are derived from Content on save.
	Length   int `json:"length"`
	NumWords int `json:"num_words"`
}

// Validate checks the identifiers needed to index the section.
func (s *Section) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: section is nil", ErrInvalidSection)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSection)
	}
	if strings.TrimSpace(s.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidSection)
	}
	return nil
}

// Derive recomputes Length (in runes) and NumWords from Content.
func (s *Section) Derive() {
	s.Length = utf8.RuneCountInString(s.Content)
	s.NumWords = chunker.Words(s.Content)
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// summaryCurrent reports whether Summary was made from the current content.
func (s *Section) summaryCurrent() bool {
	return s.Summary != "" && s.SummaryHash == ContentHash(s.Content)
}

// metadataJSON encodes the section metadata for vector entries.
func (s *Section) metadataJSON() string {
	if len(s.Metadata) == 0 {
		return "{}"
	}
	b, err := json.Marshal(s.Metadata)
	if err != nil {
		return "{}"
	}
	return string(b)
}
