package understanding

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/llm"
	"github.com/fabfab/hearings-ai/search"
)

func systemPrompt() string {
	return "You are an analyst preparing Alberta Energy Regulator hearing material for a hearing panel. Work only from the supplied document text. Do not speculate, and say so when the text does not support an answer."
}

func documentPrompt(meta document.Metadata, text, task string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Document: %s\n", search.DisplayTitle(meta)))
	sb.WriteString(fmt.Sprintf("Proceeding: %s\n", meta.ProceedingID))
	sb.WriteString(fmt.Sprintf("Type: %s\n", meta.DocumentType.DisplayName()))
	if meta.CanonicalCitation != "" {
		sb.WriteString(fmt.Sprintf("Citation: %s\n", meta.CanonicalCitation))
	}
	sb.WriteString("\nText:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nTask:\n")
	sb.WriteString(task)
	return sb.String()
}

func (s *Service) ask(ctx context.Context, meta document.Metadata, text, task string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt()},
		{Role: llm.RoleUser, Content: documentPrompt(meta, truncate(text, s.maxChars), task)},
	}
	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (s *Service) summarize(ctx context.Context, meta document.Metadata, text string) (string, error) {
	return s.ask(ctx, meta, text, "Summarize the document in one or two paragraphs. Name the applicant, the decision or relief sought, and the main issues.")
}

func (s *Service) keyPoints(ctx context.Context, meta document.Metadata, text string) ([]string, error) {
	answer, err := s.ask(ctx, meta, text, "List the key points of the document, one per line, each starting with \"- \". Cite paragraph numbers like [45] where the text has them.")
	if err != nil {
		return nil, err
	}
	return parseList(answer), nil
}

const entitiesTask = `Extract named entities as a JSON object with the keys "locations", "organizations", "well_identifiers", "dates" and "regulations". Each value is an array of strings exactly as written in the text. Reply with the JSON object only.`

func (s *Service) entities(ctx context.Context, meta document.Metadata, text string) (*Entities, error) {
	answer, err := s.ask(ctx, meta, text, entitiesTask)
	if err != nil {
		return nil, err
	}
	entities, err := parseEntities(answer)
	if err != nil {
		return nil, err
	}
	// Citations found by the extractor are always reported as regulations.
	entities.Regulations = union(entities.Regulations, s.citations.ExtractCitations(text))
	return entities, nil
}

// parseList reads one item per line, dropping bullets and numbering.
func parseList(answer string) []string {
	var out []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = strings.TrimSpace(line[i+1:])
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// parseEntities decodes the first JSON object in answer. Models often wrap
// the object in a code fence.
func parseEntities(answer string) (*Entities, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("entity extraction returned no JSON object")
	}
	var entities Entities
	if err := json.Unmarshal([]byte(answer[start:end+1]), &entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	entities.Locations = union(entities.Locations)
	entities.Organizations = union(entities.Organizations)
	entities.WellIdentifiers = union(entities.WellIdentifiers)
	entities.Dates = union(entities.Dates)
	entities.Regulations = union(entities.Regulations)
	return &entities, nil
}

// union returns the sorted, de-duplicated non-blank values of lists. It never
// returns nil.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
