package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/document"
)

func TestTextPageSourceSplitsOnFormFeed(t *testing.T) {
	pages, err := TextPageSource{}.ExtractPages(context.Background(), []byte("page one\r\n\fpage two  \n\f \n\fpage four"))
	require.NoError(t, err)
	assert.Equal(t, []document.Page{
		{Index: 1, Text: "page one\n"},
		{Index: 2, Text: "page two\n"},
		{Index: 4, Text: "page four"},
	}, pages)
}

func TestTextPageSourceEmpty(t *testing.T) {
	_, err := TextPageSource{}.ExtractPages(context.Background(), []byte(" \n\f\n"))
	require.ErrorIs(t, err, ErrPageExtraction)
}

func TestPDFPageSourceRejectsGarbage(t *testing.T) {
	_, err := PDFPageSource{}.ExtractPages(context.Background(), []byte("definitely not a pdf"))
	require.ErrorIs(t, err, ErrPageExtraction)
}

func TestPageSourceFor(t *testing.T) {
	src, err := PageSourceFor("2024-ABAER-001.PDF")
	require.NoError(t, err)
	assert.IsType(t, PDFPageSource{}, src)

	src, err = PageSourceFor("transcript.txt")
	require.NoError(t, err)
	assert.IsType(t, TextPageSource{}, src)

	_, err = PageSourceFor("notes.docx")
	require.ErrorIs(t, err, ErrPageExtraction)
}

func TestExtractTitle(t *testing.T) {
	pages := []document.Page{{Index: 1, Text: "\n\n  Benga Mining Limited Grassy Mountain Coal Project  \nbody"}}
	assert.Equal(t, "Benga Mining Limited Grassy Mountain Coal Project", ExtractTitle(pages, "fallback"))
	assert.Equal(t, "fallback", ExtractTitle(nil, "fallback"))
}

func TestManifestResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
proceedings:
  - proceeding_id: "379"
    title: Grassy Mountain Coal Project
    confidentiality_level: public
    applicant:
      name: Benga Mining Limited
    interveners:
      - name: Crowsnest Pass Residents Association
documents:
  - abaer_citation: 2021-ABAER-010
    proceeding_id: "379"
    document_type: decision
    title: Benga Mining Limited Decision
  - file: confidential-report.pdf
    proceeding_id: "379"
    document_type: evidence
    confidentiality_level: confidential
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	decision, err := m.Resolve("/data/2021ABAER010.pdf")
	require.NoError(t, err)
	assert.Equal(t, document.TypeDecision, decision.DocumentType)
	assert.Equal(t, "2021-ABAER-010", decision.CanonicalCitation)
	assert.Equal(t, document.LevelPublic, decision.ConfidentialityLevel)
	require.Len(t, decision.Parties, 2)
	assert.Equal(t, document.RoleApplicant, decision.Parties[0].Role)
	assert.Equal(t, document.RoleIntervener, decision.Parties[1].Role)
	require.NoError(t, decision.Validate())

	report, err := m.Resolve("confidential-report.pdf")
	require.NoError(t, err)
	assert.Equal(t, document.LevelConfidential, report.ConfidentialityLevel)
	assert.Equal(t, "Grassy Mountain Coal Project", report.Title)

	transcript, err := m.Resolve("proceeding-379-vol-2.txt")
	require.NoError(t, err)
	assert.Equal(t, document.TypeTranscript, transcript.DocumentType)
	assert.Equal(t, document.LevelPublic, transcript.ConfidentialityLevel)

	again, err := m.Resolve("proceeding-379-VOL-2.txt")
	require.NoError(t, err)
	assert.Equal(t, transcript.ID, again.ID, "ids are stable per file name")
}

func TestManifestFallbacks(t *testing.T) {
	var m *Manifest

	decision, err := m.Resolve("2024-ABAER-001.pdf")
	require.NoError(t, err)
	assert.Equal(t, document.TypeDecision, decision.DocumentType)
	assert.Equal(t, "2024-ABAER-001", decision.CanonicalCitation)
	assert.Equal(t, document.LevelConfidential, decision.ConfidentialityLevel)

	_, err = m.Resolve("random.pdf")
	require.ErrorIs(t, err, ErrNoMetadata)
}

func TestManifestMissingLevelIsConfidential(t *testing.T) {
	m := &Manifest{
		Proceedings: []ProceedingEntry{{ProceedingID: "412", Title: "Pipeline Licence Review"}},
		Documents: []DocumentEntry{
			{File: "exhibit-7.pdf", ProceedingID: "412", DocumentType: "evidence"},
			{File: "exhibit-8.pdf", ProceedingID: "412", DocumentType: "evidence", ConfidentialityLevel: "protected_a"},
			{File: "exhibit-9.pdf", ProceedingID: "412", DocumentType: "evidence", ConfidentialityLevel: "secret"},
		},
	}

	exhibit, err := m.Resolve("exhibit-7.pdf")
	require.NoError(t, err)
	assert.Equal(t, document.LevelConfidential, exhibit.ConfidentialityLevel)

	declared, err := m.Resolve("exhibit-8.pdf")
	require.NoError(t, err)
	assert.Equal(t, document.LevelProtectedA, declared.ConfidentialityLevel)

	_, err = m.Resolve("exhibit-9.pdf")
	require.Error(t, err)

	named, err := m.Resolve("proceeding-412-notice.txt")
	require.NoError(t, err)
	assert.Equal(t, document.LevelConfidential, named.ConfidentialityLevel)
}
