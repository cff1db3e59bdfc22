package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fabfab/hearings-ai/document"
)

// documentNamespace derives stable document ids from file names so that
// re-ingesting a directory replaces earlier chunk sets.
var documentNamespace = uuid.MustParse("5d1f3c7a-2b7e-4f4a-9c55-2f3a8e0b9a61")

// Manifest describes proceedings and documents for directory ingestion.
type Manifest struct {
	Proceedings []ProceedingEntry `yaml:"proceedings"`
	Documents   []DocumentEntry   `yaml:"documents"`
}

// ProceedingEntry describes a proceeding. ConfidentialityLevel applies to its
// documents that do not declare their own.
type ProceedingEntry struct {
	ProceedingID         string           `yaml:"proceeding_id"`
	Title                string           `yaml:"title"`
	ConfidentialityLevel string           `yaml:"confidentiality_level"`
	Applicant            *document.Party  `yaml:"applicant"`
	Interveners          []document.Party `yaml:"interveners"`
}

type DocumentEntry struct {
	File                 string           `yaml:"file"`
	ID                   string           `yaml:"id"`
	ProceedingID         string           `yaml:"proceeding_id"`
	DocumentType         string           `yaml:"document_type"`
	ConfidentialityLevel string           `yaml:"confidentiality_level"`
	CanonicalCitation    string           `yaml:"abaer_citation"`
	Title                string           `yaml:"title"`
	Parties              []document.Party `yaml:"parties"`
	VolumeNumber         int              `yaml:"volume_number"`
	SourceURL            string           `yaml:"source_url"`
}

// LoadManifest reads a YAML manifest. An empty path yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return &Manifest{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Resolve builds metadata for filename. Explicit document entries win, then
// proceeding-named files, then decision file names.
func (m *Manifest) Resolve(filename string) (document.Metadata, error) {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	lower := strings.ToLower(base)

	if m != nil {
		for _, entry := range m.Documents {
			if entry.matches(base) {
				return entry.metadata(base, m.proceeding(entry.ProceedingID))
			}
		}
		for _, proc := range m.Proceedings {
			if !strings.Contains(lower, "proceeding-"+strings.ToLower(proc.ProceedingID)) {
				continue
			}
			docType := document.TypeProcedural
			if strings.Contains(lower, "vol") {
				docType = document.TypeTranscript
			}
			level, err := resolveLevel(proc.ConfidentialityLevel)
			if err != nil {
				return document.Metadata{}, fmt.Errorf("manifest proceeding %s: %w", proc.ProceedingID, err)
			}
			return document.Metadata{
				ID:                   stableID(base),
				ProceedingID:         proc.ProceedingID,
				DocumentType:         docType,
				ConfidentialityLevel: level,
				Parties:              proc.roster(),
				Title:                proc.Title,
				Filename:             base,
			}, nil
		}
	}

	if strings.Contains(strings.ToUpper(base), "ABAER") {
		return document.Metadata{
			ID:                   stableID(base),
			ProceedingID:         "unknown",
			DocumentType:         document.TypeDecision,
			ConfidentialityLevel: document.LevelConfidential,
			CanonicalCitation:    stem,
			Title:                "Decision " + stem,
			Filename:             base,
		}, nil
	}
	return document.Metadata{}, fmt.Errorf("%w: %s", ErrNoMetadata, base)
}

func (m *Manifest) proceeding(id string) *ProceedingEntry {
	for i := range m.Proceedings {
		if m.Proceedings[i].ProceedingID == id {
			return &m.Proceedings[i]
		}
	}
	return nil
}

// resolveLevel parses the first non-empty level. Without one the document is
// treated as confidential.
func resolveLevel(levels ...string) (document.ConfidentialityLevel, error) {
	for _, l := range levels {
		if strings.TrimSpace(l) != "" {
			return document.ParseConfidentialityLevel(l)
		}
	}
	return document.LevelConfidential, nil
}

func (p ProceedingEntry) roster() []document.Party {
	parties := make([]document.Party, 0, len(p.Interveners)+1)
	if p.Applicant != nil && p.Applicant.Name != "" {
		applicant := *p.Applicant
		if applicant.Role == "" {
			applicant.Role = document.RoleApplicant
		}
		parties = append(parties, applicant)
	}
	for _, iv := range p.Interveners {
		if iv.Role == "" {
			iv.Role = document.RoleIntervener
		}
		parties = append(parties, iv)
	}
	return parties
}

func (e DocumentEntry) matches(base string) bool {
	if e.File != "" {
		return strings.EqualFold(e.File, base)
	}
	if e.CanonicalCitation == "" {
		return false
	}
	strip := func(s string) string { return strings.ReplaceAll(strings.ToUpper(s), "-", "") }
	return strings.Contains(strip(base), strip(e.CanonicalCitation))
}

func (e DocumentEntry) metadata(base string, proc *ProceedingEntry) (document.Metadata, error) {
	docType, err := document.ParseDocumentType(e.DocumentType)
	if err != nil {
		return document.Metadata{}, fmt.Errorf("manifest entry %s: %w", base, err)
	}
	inherited := ""
	if proc != nil {
		inherited = proc.ConfidentialityLevel
	}
	level, err := resolveLevel(e.ConfidentialityLevel, inherited)
	if err != nil {
		return document.Metadata{}, fmt.Errorf("manifest entry %s: %w", base, err)
	}
	parties := e.Parties
	if len(parties) == 0 && proc != nil {
		parties = proc.roster()
	}
	id := e.ID
	if id == "" {
		id = stableID(base)
	}
	title := e.Title
	if title == "" && proc != nil {
		title = proc.Title
	}
	return document.Metadata{
		ID:                   id,
		ProceedingID:         e.ProceedingID,
		DocumentType:         docType,
		ConfidentialityLevel: level,
		Parties:              parties,
		CanonicalCitation:    e.CanonicalCitation,
		Title:                title,
		VolumeNumber:         e.VolumeNumber,
		SourceURL:            e.SourceURL,
		Filename:             base,
	}, nil
}

func stableID(base string) string {
	return uuid.NewSHA1(documentNamespace, []byte(strings.ToLower(base))).String()
}
