package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	cases := map[DocumentType]string{
		TypeDecision:           "Decision",
		TypeTranscript:         "Transcript",
		TypeEvidence:           "Exhibit",
		TypeProcedural:         "Procedural Order",
		TypeNotice:             "Notice",
		TypeInformationRequest: "Information_Request",
		DocumentType("site visit"): "Site Visit",
	}
	for in, want := range cases {
		assert.Equal(t, want, in.DisplayName(), "type %q", in)
	}
}

func TestStoredLevelFailsClosed(t *testing.T) {
	assert.Equal(t, LevelPublic, StoredLevel("public"))
	assert.Equal(t, LevelProtectedA, StoredLevel(" Protected_A "))
	assert.Equal(t, LevelConfidential, StoredLevel(""))
	assert.Equal(t, LevelConfidential, StoredLevel("secret"))
}

func TestParseConfidentialityLevelRejectsEmpty(t *testing.T) {
	_, err := ParseConfidentialityLevel("")
	require.Error(t, err)
}

func TestMetadataValidate(t *testing.T) {
	meta := Metadata{
		ID:                   "doc-1",
		ProceedingID:         "449",
		DocumentType:         TypeEvidence,
		ConfidentialityLevel: LevelProtectedA,
		Parties:              []Party{{Name: "Benga Mining Limited", Role: RoleApplicant}},
	}
	require.NoError(t, meta.Validate())

	bad := meta
	bad.Parties = []Party{{Name: "Someone", Role: "observer"}}
	require.Error(t, bad.Validate())

	bad = meta
	bad.ConfidentialityLevel = ""
	require.Error(t, bad.Validate())
}

func TestChunkFresh(t *testing.T) {
	c := Chunk{Content: "carried\n\nnew text", OverlapLength: len("carried")}
	assert.Equal(t, "\n\nnew text", c.Fresh())

	c.OverlapLength = 0
	assert.Equal(t, c.Content, c.Fresh())
}

func TestCollectCitations(t *testing.T) {
	chunks := []Chunk{
		{RegulatoryCitations: []string{"REDA s. 34", "Directive 056"}},
		{RegulatoryCitations: []string{"Directive 056", "EPEA s. 2"}},
	}
	assert.Equal(t, []string{"Directive 056", "EPEA s. 2", "REDA s. 34"}, CollectCitations(chunks))
}
