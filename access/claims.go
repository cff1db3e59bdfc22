package access

import "strings"

// Role names carried in identity tokens.
const (
	RoleStaff        = "Staff"
	RoleHearingPanel = "Hearing_Panel"
	RoleIntervener   = "Intervener"
)

// Claims is the authenticated identity of a caller.
type Claims struct {
	Subject          string   `json:"oid"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Roles            []string `json:"roles"`
	PartyAffiliation string   `json:"party_affiliation,omitempty"`
	LicenseeCode     string   `json:"ba_code,omitempty"`
}

// HasRole reports whether the claims carry role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CapabilityKind tags a Capability.
type CapabilityKind int

const (
	CapabilityStaff CapabilityKind = iota + 1
	CapabilityHearingPanel
	CapabilityIntervener
)

func (k CapabilityKind) String() string {
	switch k {
	case CapabilityStaff:
		return "staff"
	case CapabilityHearingPanel:
		return "hearing_panel"
	case CapabilityIntervener:
		return "intervener"
	default:
		return "unknown"
	}
}

// Capability is what a caller may see. Affiliation is set only for
// CapabilityIntervener.
type Capability struct {
	Kind        CapabilityKind
	Affiliation string
}

func Staff() Capability        { return Capability{Kind: CapabilityStaff} }
func HearingPanel() Capability { return Capability{Kind: CapabilityHearingPanel} }
func Intervener(affiliation string) Capability {
	return Capability{Kind: CapabilityIntervener, Affiliation: affiliation}
}

// Capabilities derives the capability set from roles and affiliation. A blank
// affiliation grants nothing.
func (c Claims) Capabilities() []Capability {
	var caps []Capability
	if c.HasRole(RoleStaff) {
		caps = append(caps, Staff())
	}
	if c.HasRole(RoleHearingPanel) {
		caps = append(caps, HearingPanel())
	}
	if affiliation := strings.TrimSpace(c.PartyAffiliation); affiliation != "" {
		caps = append(caps, Intervener(c.PartyAffiliation))
	}
	return caps
}

type capabilitySet struct {
	staff        bool
	panel        bool
	affiliations []string
}

func collect(caps []Capability) capabilitySet {
	var set capabilitySet
	for _, c := range caps {
		switch c.Kind {
		case CapabilityStaff:
			set.staff = true
		case CapabilityHearingPanel:
			set.panel = true
		case CapabilityIntervener:
			set.affiliations = append(set.affiliations, c.Affiliation)
		}
	}
	return set
}

// Demo identities selectable by role name when demo mode is enabled.
var DemoProfiles = map[string]Claims{
	"Hearing_Panel": {
		Subject: "demo-panel-001",
		Name:    "Commissioner Demo",
		Email:   "panel@aer.ca",
		Roles:   []string{RoleHearingPanel},
	},
	"Staff": {
		Subject: "demo-staff-001",
		Name:    "Staff Demo",
		Email:   "staff@example.com",
		Roles:   []string{RoleStaff},
	},
	"Intervener": {
		Subject:          "demo-intervener-001",
		Name:             "Intervener Demo",
		Email:            "intervener@example.com",
		Roles:            []string{RoleIntervener},
		PartyAffiliation: "Crowsnest Pass Residents Association",
	},
	"Public": {
		Subject: "demo-public-001",
		Name:    "Public User",
		Email:   "public@example.com",
		Roles:   []string{},
	},
}
