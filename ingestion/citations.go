package ingestion

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CitationKind groups citation patterns.
type CitationKind string

const (
	CitationLegislation CitationKind = "legislation"
	CitationDirective   CitationKind = "directive"
	CitationManual      CitationKind = "manual"
	CitationDecision    CitationKind = "decision"
)

// CitationPattern is a case-insensitive regular expression for one citation
// family.
type CitationPattern struct {
	Kind CitationKind
	Expr string
}

// Optional section reference, e.g. "s. 34" or "s 2.1.3".
const sectionRef = `(?:\s+s\.?\s*\d+(?:\.\d+)*)?`

var DefaultCitationPatterns = []CitationPattern{
	{Kind: CitationLegislation, Expr: `\b(?:REDA|EPEA|OGCA|Pipeline\s+Act|Water\s+Act|Public\s+Lands\s+Act)\b` + sectionRef},
	{Kind: CitationDirective, Expr: `\bDirective\s+\d+` + sectionRef},
	{Kind: CitationManual, Expr: `\bManual\s+\d+` + sectionRef},
	{Kind: CitationDecision, Expr: `\b\d{4}[- ]ABAER[- ]\d{3}\b`},
}

var (
	paragraphMarker = regexp.MustCompile(`\[(\d+)\]`)
	regexEscape     = regexp.MustCompile(`\\.`)
	literalWord     = regexp.MustCompile(`[A-Za-z]{2,}`)
	letters         = regexp.MustCompile(`[A-Za-z]+`)
)

type compiledPattern struct {
	kind CitationKind
	re   *regexp.Regexp
}

// CitationExtractor finds regulatory citations and paragraph markers.
// It is safe for concurrent use.
type CitationExtractor struct {
	patterns []compiledPattern
	// spelling maps lower-cased registry words to their registry spelling.
	spelling map[string]string
}

// NewCitationExtractor compiles and checks the pattern registry.
func NewCitationExtractor(patterns []CitationPattern) (*CitationExtractor, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("citation pattern registry is empty")
	}
	compiled := make([]compiledPattern, 0, len(patterns))
	spelling := make(map[string]string)
	for i, p := range patterns {
		if p.Kind == "" {
			return nil, fmt.Errorf("citation pattern %d has no kind", i)
		}
		if strings.TrimSpace(p.Expr) == "" {
			return nil, fmt.Errorf("citation pattern %d (%s) is empty", i, p.Kind)
		}
		re, err := regexp.Compile(`(?i)` + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile %s citation pattern: %w", p.Kind, err)
		}
		if re.MatchString("") {
			return nil, fmt.Errorf("%s citation pattern matches empty text", p.Kind)
		}
		compiled = append(compiled, compiledPattern{kind: p.Kind, re: re})
		for _, w := range literalWord.FindAllString(regexEscape.ReplaceAllString(p.Expr, " "), -1) {
			spelling[strings.ToLower(w)] = w
		}
	}
	return &CitationExtractor{patterns: compiled, spelling: spelling}, nil
}

// MustCitationExtractor is NewCitationExtractor for static registries.
func MustCitationExtractor(patterns []CitationPattern) *CitationExtractor {
	ext, err := NewCitationExtractor(patterns)
	if err != nil {
		panic(err)
	}
	return ext
}

// ExtractCitations returns the distinct citations in text, sorted, with
// internal whitespace collapsed and words spelled as in the registry.
func (e *CitationExtractor) ExtractCitations(text string) []string {
	if e == nil {
		return []string{}
	}
	seen := make(map[string]struct{})
	for _, p := range e.patterns {
		for _, m := range p.re.FindAllString(text, -1) {
			seen[e.canonical(m)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ExtractParagraphMarkers returns the numbers of "[n]" markers in document
// order.
func ExtractParagraphMarkers(text string) []string {
	matches := paragraphMarker.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ExtractedCitation is a citation with the paragraphs it appears under.
type ExtractedCitation struct {
	Citation   string       `json:"citation"`
	Kind       CitationKind `json:"kind"`
	Paragraphs []string     `json:"paragraphs,omitempty"`
}

// ExtractWithParagraphs attributes each citation to the closest preceding
// paragraph marker. Results are sorted by citation.
func (e *CitationExtractor) ExtractWithParagraphs(text string) []ExtractedCitation {
	if e == nil {
		return nil
	}
	markers := paragraphMarker.FindAllStringSubmatchIndex(text, -1)
	markerAt := func(offset int) string {
		current := ""
		for _, m := range markers {
			if m[0] > offset {
				break
			}
			current = text[m[2]:m[3]]
		}
		return current
	}

	byCitation := make(map[string]*ExtractedCitation)
	for _, p := range e.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			cite := e.canonical(text[loc[0]:loc[1]])
			entry, ok := byCitation[cite]
			if !ok {
				entry = &ExtractedCitation{Citation: cite, Kind: p.kind}
				byCitation[cite] = entry
			}
			if para := markerAt(loc[0]); para != "" && !containsString(entry.Paragraphs, para) {
				entry.Paragraphs = append(entry.Paragraphs, para)
			}
		}
	}

	out := make([]ExtractedCitation, 0, len(byCitation))
	for _, entry := range byCitation {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Citation < out[j].Citation })
	return out
}

// canonical collapses whitespace, restores registry spelling and lower-cases
// the section marker.
func (e *CitationExtractor) canonical(match string) string {
	return letters.ReplaceAllStringFunc(collapseSpace(match), func(w string) string {
		lower := strings.ToLower(w)
		if spelled, ok := e.spelling[lower]; ok {
			return spelled
		}
		if lower == "s" {
			return lower
		}
		return w
	})
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
