package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/document"
)

const (
	ProceedingActive = "active"
	ProceedingClosed = "closed"
)

type ProceedingDocuments struct {
	Decisions           []DocumentSummary `json:"decisions"`
	Transcripts         []DocumentSummary `json:"transcripts"`
	Evidence            []DocumentSummary `json:"evidence"`
	Procedural          []DocumentSummary `json:"procedural"`
	Notices             []DocumentSummary `json:"notices"`
	InformationRequests []DocumentSummary `json:"information_requests"`
}

type ProceedingOverview struct {
	ProceedingID string              `json:"proceeding_id"`
	Title        string              `json:"title"`
	Status       string              `json:"status"`
	Applicant    *document.Party     `json:"applicant,omitempty"`
	Interveners  []document.Party    `json:"interveners"`
	Documents    ProceedingDocuments `json:"documents"`
}

// Proceeding summarises the documents of a proceeding that claims may see.
// A proceeding with no visible documents is reported as unavailable.
func (o *Orchestrator) Proceeding(ctx context.Context, proceedingID string, claims access.Claims) (ProceedingOverview, error) {
	proceedingID = strings.TrimSpace(proceedingID)
	if proceedingID == "" {
		return ProceedingOverview{}, fmt.Errorf("%w: proceeding id is required", ErrInvalidRequest)
	}
	if o.documents == nil {
		return ProceedingOverview{}, fmt.Errorf("document store not configured")
	}
	docs, err := o.documents.ListByProceeding(ctx, proceedingID)
	if err != nil {
		return ProceedingOverview{}, fmt.Errorf("list proceeding %s: %w", proceedingID, err)
	}

	var visible []document.Metadata
	for _, doc := range docs {
		if o.policy.CanAccess(claims, doc) {
			visible = append(visible, doc)
		}
	}
	if len(visible) == 0 {
		return ProceedingOverview{}, ErrDocumentUnavailable
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].UploadedAt.Before(visible[j].UploadedAt)
	})

	overview := ProceedingOverview{
		ProceedingID: proceedingID,
		Status:       ProceedingActive,
		Interveners:  []document.Party{},
		Documents: ProceedingDocuments{
			Decisions:           []DocumentSummary{},
			Transcripts:         []DocumentSummary{},
			Evidence:            []DocumentSummary{},
			Procedural:          []DocumentSummary{},
			Notices:             []DocumentSummary{},
			InformationRequests: []DocumentSummary{},
		},
	}

	seen := map[string]bool{}
	for _, doc := range visible {
		summary := summarize(doc)
		d := &overview.Documents
		switch doc.DocumentType {
		case document.TypeDecision:
			d.Decisions = append(d.Decisions, summary)
			overview.Status = ProceedingClosed
			if overview.Title == "" {
				overview.Title = summary.Title
			}
		case document.TypeTranscript:
			d.Transcripts = append(d.Transcripts, summary)
		case document.TypeEvidence:
			d.Evidence = append(d.Evidence, summary)
		case document.TypeProcedural:
			d.Procedural = append(d.Procedural, summary)
		case document.TypeNotice:
			d.Notices = append(d.Notices, summary)
		default:
			d.InformationRequests = append(d.InformationRequests, summary)
		}

		for _, party := range doc.Parties {
			key := strings.ToLower(strings.TrimSpace(party.Name))
			if seen[key] {
				continue
			}
			seen[key] = true
			switch party.Role {
			case document.RoleApplicant:
				if overview.Applicant == nil {
					applicant := party
					overview.Applicant = &applicant
				}
			case document.RoleIntervener:
				overview.Interveners = append(overview.Interveners, party)
			}
		}
	}
	if overview.Title == "" {
		overview.Title = fmt.Sprintf("Proceeding %s", proceedingID)
	}
	return overview, nil
}
