package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCitations(t *testing.T) {
	ext := MustCitationExtractor(DefaultCitationPatterns)

	got := ext.ExtractCitations("Under REDA s. 34 and Directive 056 s. 2.1, the panel finds…")
	assert.Equal(t, []string{"Directive 056 s. 2.1", "REDA s. 34"}, got)
}

func TestExtractCitationsFamilies(t *testing.T) {
	ext := MustCitationExtractor(DefaultCitationPatterns)

	text := `The Water  Act s.12 and Public Lands Act apply. See Manual 011, EPEA s 2.1.3,
Pipeline Act s. 7 and decision 2023-ABAER-004 (also cited as 2023 ABAER 004). Directive 056 is repeated: Directive 056.`
	got := ext.ExtractCitations(text)

	assert.Equal(t, []string{
		"2023 ABAER 004",
		"2023-ABAER-004",
		"Directive 056",
		"EPEA s 2.1.3",
		"Manual 011",
		"Pipeline Act s. 7",
		"Public Lands Act",
		"Water Act s.12",
	}, got)
}

func TestExtractCitationsEmpty(t *testing.T) {
	ext := MustCitationExtractor(DefaultCitationPatterns)
	assert.Empty(t, ext.ExtractCitations("Nothing regulatory here. Readable text only."))
	assert.Empty(t, (*CitationExtractor)(nil).ExtractCitations("REDA s. 1"))
}

func TestExtractParagraphMarkers(t *testing.T) {
	assert.Equal(t, []string{"12", "13"}, ExtractParagraphMarkers("[12] text [13] more"))
	assert.Empty(t, ExtractParagraphMarkers("no markers [a]"))
}

func TestExtractWithParagraphs(t *testing.T) {
	ext := MustCitationExtractor(DefaultCitationPatterns)
	text := "REDA s. 34 in the preamble. [1] Directive 056 governs. [2] Again REDA s. 34 and Directive 056. [3] Only REDA s. 34."

	got := ext.ExtractWithParagraphs(text)
	require.Len(t, got, 2)
	assert.Equal(t, ExtractedCitation{Citation: "Directive 056", Kind: CitationDirective, Paragraphs: []string{"1", "2"}}, got[0])
	assert.Equal(t, ExtractedCitation{Citation: "REDA s. 34", Kind: CitationLegislation, Paragraphs: []string{"2", "3"}}, got[1])
}

func TestNewCitationExtractorRejectsBadRegistry(t *testing.T) {
	_, err := NewCitationExtractor(nil)
	require.Error(t, err)

	_, err = NewCitationExtractor([]CitationPattern{{Kind: CitationManual, Expr: `Manual(`}})
	require.Error(t, err)

	_, err = NewCitationExtractor([]CitationPattern{{Kind: CitationManual, Expr: `x*`}})
	require.Error(t, err)

	_, err = NewCitationExtractor([]CitationPattern{{Expr: `Manual \d+`}})
	require.Error(t, err)
}

func TestExtractCitationsNormalisesCase(t *testing.T) {
	ext := MustCitationExtractor(DefaultCitationPatterns)

	got := ext.ExtractCitations("REDA s. 34 and reda S. 34; DIRECTIVE 056 and directive 056; pipeline act s. 7; 2023-abaer-004.")
	assert.Equal(t, []string{"2023-ABAER-004", "Directive 056", "Pipeline Act s. 7", "REDA s. 34"}, got)

	with := ext.ExtractWithParagraphs("[1] REDA s. 34 applies. [2] So does reda s. 34.")
	require.Len(t, with, 1)
	assert.Equal(t, []string{"1", "2"}, with[0].Paragraphs)
}
