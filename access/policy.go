// Package access decides which hearing documents a caller may see, both for a
// single document and as a filter for bulk retrieval. The two forms always
// agree.
package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/filter"
)

// ErrAccessDenied is returned when a caller is below a document's clearance.
var ErrAccessDenied = errors.New("access denied")

// Normalizer maps a party name to the key used when comparing an affiliation
// with a document roster.
type Normalizer func(string) string

// ExactMatch compares names byte for byte.
func ExactMatch(s string) string { return s }

// FoldMatch ignores case and runs of whitespace.
func FoldMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ParseNormalizer resolves the party_match setting.
func ParseNormalizer(name string) (Normalizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exact":
		return ExactMatch, nil
	case "fold":
		return FoldMatch, nil
	default:
		return nil, fmt.Errorf("unknown party match rule %q", name)
	}
}

// Policy evaluates access rules. It performs no I/O.
type Policy struct {
	normalize Normalizer
}

func NewPolicy(norm Normalizer) *Policy {
	if norm == nil {
		norm = ExactMatch
	}
	return &Policy{normalize: norm}
}

// PartyKeys returns the normalized roster of doc, de-duplicated and sorted.
// Indexes store these keys so that the filter and CanAccess compare the same
// values.
func (p *Policy) PartyKeys(doc document.Metadata) []string {
	seen := make(map[string]struct{}, len(doc.Parties))
	keys := make([]string, 0, len(doc.Parties))
	for _, party := range doc.Parties {
		key := p.normalize(party.Name)
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CanAccess reports whether claims may see doc. Levels are checked
// independently; an unrecognised level is treated as confidential.
func (p *Policy) CanAccess(claims Claims, doc document.Metadata) bool {
	caps := collect(claims.Capabilities())
	switch document.StoredLevel(string(doc.ConfidentialityLevel)) {
	case document.LevelPublic:
		return true
	case document.LevelProtectedA:
		if caps.staff || caps.panel {
			return true
		}
		return p.affiliated(caps.affiliations, doc)
	case document.LevelConfidential:
		return caps.panel
	default:
		return false
	}
}

func (p *Policy) affiliated(affiliations []string, doc document.Metadata) bool {
	if len(affiliations) == 0 {
		return false
	}
	keys := p.PartyKeys(doc)
	for _, affiliation := range affiliations {
		want := p.normalize(affiliation)
		if strings.TrimSpace(want) == "" {
			continue
		}
		for _, key := range keys {
			if key == want {
				return true
			}
		}
	}
	return false
}

// Require returns ErrAccessDenied when claims may not see doc.
func (p *Policy) Require(claims Claims, doc document.Metadata) error {
	if !p.CanAccess(claims, doc) {
		return ErrAccessDenied
	}
	return nil
}

// CanIngest reports whether claims may submit documents for ingestion.
func (p *Policy) CanIngest(claims Claims) bool {
	caps := collect(claims.Capabilities())
	return caps.staff || caps.panel
}

// FilterPredicate builds the mandatory retrieval filter for claims. It never
// returns nil; callers without capabilities get public documents only.
func (p *Policy) FilterPredicate(claims Claims) filter.Expr {
	caps := collect(claims.Capabilities())
	var terms []filter.Expr
	if !caps.panel {
		terms = append(terms, filter.Ne{Field: filter.FieldConfidentialityLevel, Value: string(document.LevelConfidential)})
	}
	if !caps.staff && !caps.panel {
		public := filter.Eq{Field: filter.FieldConfidentialityLevel, Value: string(document.LevelPublic)}
		own := make([]filter.Expr, 0, len(caps.affiliations))
		for _, affiliation := range caps.affiliations {
			key := p.normalize(affiliation)
			if strings.TrimSpace(key) == "" {
				continue
			}
			own = append(own, filter.AnyOf{Field: filter.FieldPartyKeys, Value: key})
		}
		if len(own) == 0 {
			terms = append(terms, public)
		} else {
			terms = append(terms, filter.OneOf(append([]filter.Expr{public}, own...)...))
		}
	}
	return filter.AllOf(terms...)
}

// DocumentFields maps doc to the field view the filter is evaluated against.
func (p *Policy) DocumentFields(doc document.Metadata) filter.Fields {
	return filter.Fields{
		Scalars: map[filter.Field]string{
			filter.FieldConfidentialityLevel: string(document.StoredLevel(string(doc.ConfidentialityLevel))),
			filter.FieldDocumentType:         string(doc.DocumentType),
			filter.FieldProceedingID:         doc.ProceedingID,
			filter.FieldDocumentID:           doc.ID,
		},
		Collections: map[filter.Field][]string{
			filter.FieldPartyKeys:           p.PartyKeys(doc),
			filter.FieldParties:             doc.PartyNames(),
			filter.FieldRegulatoryCitations: doc.RegulatoryCitations,
		},
	}
}
