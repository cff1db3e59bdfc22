// Package document defines the hearing document model shared by ingestion,
// access control and search.
package document

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// ConfidentialityLevel governs who may see a document and its chunks.
type ConfidentialityLevel string

const (
	LevelPublic       ConfidentialityLevel = "public"
	LevelProtectedA   ConfidentialityLevel = "protected_a"
	LevelConfidential ConfidentialityLevel = "confidential"
)

// Levels lists every confidentiality level.
var Levels = []ConfidentialityLevel{LevelPublic, LevelProtectedA, LevelConfidential}

func (l ConfidentialityLevel) Valid() bool {
	switch l {
	case LevelPublic, LevelProtectedA, LevelConfidential:
		return true
	default:
		return false
	}
}

// ParseConfidentialityLevel parses a level supplied by a caller. An empty
// value is rejected rather than defaulted.
func ParseConfidentialityLevel(raw string) (ConfidentialityLevel, error) {
	level := ConfidentialityLevel(strings.ToLower(strings.TrimSpace(raw)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown confidentiality level %q", raw)
	}
	return level, nil
}

// StoredLevel reads a level persisted by a store. Values that are missing or
// unrecognised are treated as confidential.
func StoredLevel(raw string) ConfidentialityLevel {
	level, err := ParseConfidentialityLevel(raw)
	if err != nil {
		return LevelConfidential
	}
	return level
}

// DocumentType is the hearing document taxonomy.
type DocumentType string

const (
	TypeDecision           DocumentType = "decision"
	TypeTranscript         DocumentType = "transcript"
	TypeProcedural         DocumentType = "procedural"
	TypeEvidence           DocumentType = "evidence"
	TypeNotice             DocumentType = "notice"
	TypeInformationRequest DocumentType = "information_request"
)

var DocumentTypes = []DocumentType{
	TypeDecision,
	TypeTranscript,
	TypeProcedural,
	TypeEvidence,
	TypeNotice,
	TypeInformationRequest,
}

var typeDisplayNames = map[DocumentType]string{
	TypeDecision:   "Decision",
	TypeTranscript: "Transcript",
	TypeEvidence:   "Exhibit",
	TypeProcedural: "Procedural Order",
	TypeNotice:     "Notice",
}

func (t DocumentType) Valid() bool {
	for _, known := range DocumentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DisplayName returns the label used in citation references. Types without a
// fixed label are title-cased.
func (t DocumentType) DisplayName() string {
	if name, ok := typeDisplayNames[t]; ok {
		return name
	}
	return titleCase(string(t))
}

func ParseDocumentType(raw string) (DocumentType, error) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown document type %q", raw)
	}
	return t, nil
}

// PartyRole is the role a party plays in a proceeding.
type PartyRole string

const (
	RoleApplicant  PartyRole = "applicant"
	RoleIntervener PartyRole = "intervener"
	RoleStaff      PartyRole = "staff"
)

func (r PartyRole) Valid() bool {
	switch r {
	case RoleApplicant, RoleIntervener, RoleStaff:
		return true
	default:
		return false
	}
}

// ProcessingStatus tracks a document through ingestion.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusIndexed    ProcessingStatus = "indexed"
	StatusFailed     ProcessingStatus = "failed"
)

func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusIndexed, StatusFailed:
		return true
	default:
		return false
	}
}

// Party is an applicant, intervener or staff entity on a document roster.
type Party struct {
	Name         string    `json:"name" yaml:"name"`
	Role         PartyRole `json:"role" yaml:"role"`
	LicenseeCode string    `json:"ba_code,omitempty" yaml:"ba_code,omitempty"`
}

// Metadata describes an ingested document. It is immutable once indexed except
// for its status and canonical citation.
type Metadata struct {
	ID                   string               `json:"id"`
	ProceedingID         string               `json:"proceeding_id"`
	DocumentType         DocumentType         `json:"document_type"`
	ConfidentialityLevel ConfidentialityLevel `json:"confidentiality_level"`
	Parties              []Party              `json:"parties"`
	CanonicalCitation    string               `json:"abaer_citation,omitempty"`
	Title                string               `json:"title"`
	Status               ProcessingStatus     `json:"processing_status"`
	RegulatoryCitations  []string             `json:"regulatory_citations,omitempty"`
	SourceURL            string               `json:"source_url,omitempty"`
	Filename             string               `json:"filename,omitempty"`
	SHA256               string               `json:"sha256,omitempty"`
	PageCount            int                  `json:"page_count,omitempty"`
	ChunkCount           int                  `json:"chunk_count,omitempty"`
	VolumeNumber         int                  `json:"volume_number,omitempty"`
	FailureReason        string               `json:"failure_reason,omitempty"`
	UploadedAt           time.Time            `json:"uploaded_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// PartyNames returns roster names in roster order.
func (m Metadata) PartyNames() []string {
	names := make([]string, 0, len(m.Parties))
	for _, p := range m.Parties {
		if name := strings.TrimSpace(p.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Validate checks the fields required at ingestion time.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(m.ProceedingID) == "" {
		return fmt.Errorf("proceeding id is required")
	}
	if !m.DocumentType.Valid() {
		return fmt.Errorf("unknown document type %q", m.DocumentType)
	}
	if !m.ConfidentialityLevel.Valid() {
		return fmt.Errorf("unknown confidentiality level %q", m.ConfidentialityLevel)
	}
	for i, p := range m.Parties {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("party %d has no name", i)
		}
		if !p.Role.Valid() {
			return fmt.Errorf("party %q has unknown role %q", p.Name, p.Role)
		}
	}
	return nil
}

// Page is one page of raw text produced by a page source.
type Page struct {
	Index int
	Text  string
}

// Chunk is a bounded, overlap-linked span of document text.
type Chunk struct {
	ChunkID             int      `json:"chunk_id"`
	Content             string   `json:"content"`
	PageNumber          int      `json:"page_number"`
	ParagraphNumber     string   `json:"paragraph_number,omitempty"`
	RegulatoryCitations []string `json:"regulatory_citations"`
	TokenCount          int      `json:"token_count"`
	// OverlapLength is the byte length of the Content prefix carried over from
	// the previous chunk.
	OverlapLength int `json:"overlap_length"`
}

// Fresh returns the part of the chunk that was not carried from its
// predecessor.
func (c Chunk) Fresh() string {
	if c.OverlapLength <= 0 || c.OverlapLength > len(c.Content) {
		return c.Content
	}
	return c.Content[c.OverlapLength:]
}

// CollectCitations returns the sorted union of citations across chunks.
func CollectCitations(chunks []Chunk) []string {
	seen := make(map[string]struct{})
	for _, c := range chunks {
		for _, cite := range c.RegulatoryCitations {
			seen[cite] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for cite := range seen {
		out = append(out, cite)
	}
	sort.Strings(out)
	return out
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
