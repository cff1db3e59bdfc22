package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/filter"
)

const crowsnest = "Crowsnest Pass Residents Association"

func doc(level document.ConfidentialityLevel, parties ...string) document.Metadata {
	meta := document.Metadata{
		ID:                   "doc-1",
		ProceedingID:         "449",
		DocumentType:         document.TypeEvidence,
		ConfidentialityLevel: level,
	}
	for _, name := range parties {
		meta.Parties = append(meta.Parties, document.Party{Name: name, Role: document.RoleIntervener})
	}
	return meta
}

func claimGrid() map[string]Claims {
	return map[string]Claims{
		"anonymous":        {},
		"public":           {Roles: []string{}},
		"staff":            {Roles: []string{RoleStaff}},
		"panel":            {Roles: []string{RoleHearingPanel}},
		"staff+panel":      {Roles: []string{RoleStaff, RoleHearingPanel}},
		"intervener":       {Roles: []string{RoleIntervener}, PartyAffiliation: crowsnest},
		"intervener-case":  {Roles: []string{RoleIntervener}, PartyAffiliation: "crowsnest  pass residents association"},
		"intervener-other": {Roles: []string{RoleIntervener}, PartyAffiliation: "Benga Mining Limited"},
		"blank-affil":      {PartyAffiliation: "   "},
		"staff-affil":      {Roles: []string{RoleStaff}, PartyAffiliation: crowsnest},
		"quote-affil":      {PartyAffiliation: "O'Brien Ranch"},
	}
}

func docGrid() map[string]document.Metadata {
	out := map[string]document.Metadata{}
	rosters := map[string][]string{
		"none":      nil,
		"crowsnest": {crowsnest},
		"mixed":     {"Benga Mining Limited", crowsnest},
		"quote":     {"O'Brien Ranch"},
		"spaced":    {"  Crowsnest Pass   Residents Association "},
	}
	levels := []document.ConfidentialityLevel{
		document.LevelPublic, document.LevelProtectedA, document.LevelConfidential, "", "secret",
	}
	for _, level := range levels {
		for name, roster := range rosters {
			out[string(level)+"/"+name] = doc(level, roster...)
		}
	}
	return out
}

func TestFilterMatchesCanAccess(t *testing.T) {
	for _, norm := range []struct {
		name string
		fn   Normalizer
	}{{"exact", ExactMatch}, {"fold", FoldMatch}} {
		policy := NewPolicy(norm.fn)
		for cname, claims := range claimGrid() {
			predicate := policy.FilterPredicate(claims)
			require.NotNil(t, predicate)
			for dname, d := range docGrid() {
				want := policy.CanAccess(claims, d)
				got := filter.Eval(predicate, policy.DocumentFields(d))
				assert.Equal(t, want, got, "normalizer=%s claims=%s doc=%s", norm.name, cname, dname)
			}
		}
	}
}

func TestHearingPanelSeesEverything(t *testing.T) {
	policy := NewPolicy(ExactMatch)
	panel := Claims{Roles: []string{RoleHearingPanel}}
	for name, d := range docGrid() {
		assert.True(t, policy.CanAccess(panel, d), name)
	}
	assert.Equal(t, filter.True{}, policy.FilterPredicate(panel))
}

func TestRuleExamples(t *testing.T) {
	policy := NewPolicy(ExactMatch)

	assert.True(t, policy.CanAccess(Claims{Roles: []string{RoleStaff}}, doc(document.LevelProtectedA)))
	assert.False(t, policy.CanAccess(Claims{Roles: []string{RoleStaff}}, doc(document.LevelConfidential)))

	intervener := Claims{PartyAffiliation: crowsnest}
	assert.True(t, policy.CanAccess(intervener, doc(document.LevelProtectedA, crowsnest)))
	assert.False(t, policy.CanAccess(intervener, doc(document.LevelConfidential, crowsnest)))
	assert.False(t, policy.CanAccess(intervener, doc(document.LevelProtectedA, "Benga Mining Limited")))
	assert.True(t, policy.CanAccess(Claims{}, doc(document.LevelPublic)))
}

func TestPartyMatchRules(t *testing.T) {
	d := doc(document.LevelProtectedA, "  Crowsnest Pass   Residents Association ")
	claims := Claims{PartyAffiliation: "crowsnest pass residents association"}

	assert.False(t, NewPolicy(ExactMatch).CanAccess(claims, d))
	assert.True(t, NewPolicy(FoldMatch).CanAccess(claims, d))
}

func TestUnknownLevelFailsClosed(t *testing.T) {
	policy := NewPolicy(ExactMatch)
	d := doc("restricted", crowsnest)

	assert.False(t, policy.CanAccess(Claims{Roles: []string{RoleStaff}}, d))
	assert.False(t, policy.CanAccess(Claims{PartyAffiliation: crowsnest}, d))
	assert.True(t, policy.CanAccess(Claims{Roles: []string{RoleHearingPanel}}, d))
}

func TestFilterPredicateRendering(t *testing.T) {
	policy := NewPolicy(FoldMatch)

	assert.Equal(t,
		"confidentialityLevel ne 'confidential' and confidentialityLevel eq 'public'",
		filter.RenderOData(policy.FilterPredicate(Claims{})))
	assert.Equal(t,
		"confidentialityLevel ne 'confidential'",
		filter.RenderOData(policy.FilterPredicate(Claims{Roles: []string{RoleStaff}})))
	assert.Equal(t,
		"confidentialityLevel ne 'confidential' and (confidentialityLevel eq 'public' or partyKeys/any(p: p eq 'crowsnest pass residents association'))",
		filter.RenderOData(policy.FilterPredicate(Claims{PartyAffiliation: crowsnest})))
}

func TestRequireAndCanIngest(t *testing.T) {
	policy := NewPolicy(nil)

	require.ErrorIs(t, policy.Require(Claims{}, doc(document.LevelProtectedA)), ErrAccessDenied)
	require.NoError(t, policy.Require(Claims{}, doc(document.LevelPublic)))

	assert.True(t, policy.CanIngest(Claims{Roles: []string{RoleStaff}}))
	assert.True(t, policy.CanIngest(Claims{Roles: []string{RoleHearingPanel}}))
	assert.False(t, policy.CanIngest(Claims{Roles: []string{RoleIntervener}, PartyAffiliation: crowsnest}))
}

func TestParseNormalizer(t *testing.T) {
	norm, err := ParseNormalizer("FOLD")
	require.NoError(t, err)
	assert.Equal(t, "a b", norm("  A   b "))

	_, err = ParseNormalizer("soundex")
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	caps := Claims{Roles: []string{RoleStaff, "Auditor"}, PartyAffiliation: crowsnest}.Capabilities()
	assert.Equal(t, []Capability{Staff(), Intervener(crowsnest)}, caps)
	assert.Empty(t, Claims{PartyAffiliation: " "}.Capabilities())
}
