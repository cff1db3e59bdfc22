package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fabfab/hearings-ai/document"
)

const (
	DefaultSnippetLength = 300
	ellipsis             = "..."
)

// FormatCitationRef renders a human citation for a chunk, for example
// "2024-ABAER-001, p.47, ¶156" or "Proceeding 449, Exhibit, p.3".
func FormatCitationRef(proceedingID string, docType document.DocumentType, page int, paragraph, canonical string) string {
	var b strings.Builder
	if canonical = strings.TrimSpace(canonical); canonical != "" {
		b.WriteString(canonical)
	} else {
		fmt.Fprintf(&b, "Proceeding %s, %s", proceedingID, docType.DisplayName())
	}
	fmt.Fprintf(&b, ", p.%d", page)
	if paragraph = strings.TrimSpace(paragraph); paragraph != "" {
		fmt.Fprintf(&b, ", ¶%s", paragraph)
	}
	return b.String()
}

// Snippet shortens content to at most maxLength characters. It prefers ending
// on a sentence boundary in the second half of the window, then on a word
// boundary, and only then cuts mid-word. Shortened text that does not end on a
// sentence gets an ellipsis.
func Snippet(content string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultSnippetLength
	}
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= maxLength {
		return content
	}
	window := runes[:maxLength]

	for i := len(window) - 2; i >= maxLength/2; i-- {
		if isTerminal(window[i]) && unicode.IsSpace(window[i+1]) {
			return string(window[:i+1])
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return strings.TrimRightFunc(string(window[:i]), unicode.IsSpace) + ellipsis
		}
	}
	return string(window) + ellipsis
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

var placeholderTitles = map[string]bool{
	"":                 true,
	"untitled":         true,
	"unknown document": true,
}

// DisplayTitle returns the stored title, or a synthesised one when the stored
// title is missing or a placeholder.
func DisplayTitle(meta document.Metadata) string {
	title := strings.TrimSpace(meta.Title)
	if !placeholderTitles[strings.ToLower(title)] {
		return title
	}
	if canonical := strings.TrimSpace(meta.CanonicalCitation); canonical != "" {
		return "Decision " + canonical
	}
	return "Document - " + meta.DocumentType.DisplayName()
}

func summarize(meta document.Metadata) DocumentSummary {
	return DocumentSummary{
		ID:                meta.ID,
		Title:             DisplayTitle(meta),
		DocumentType:      meta.DocumentType,
		CanonicalCitation: meta.CanonicalCitation,
		PageCount:         meta.PageCount,
	}
}

// DocumentSummary is a lightweight document reference for listings.
type DocumentSummary struct {
	ID                string                `json:"id"`
	Title             string                `json:"title"`
	DocumentType      document.DocumentType `json:"document_type"`
	CanonicalCitation string                `json:"abaer_citation,omitempty"`
	PageCount         int                   `json:"page_count,omitempty"`
}
