package ingestion

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/fabfab/hearings-ai/document"
)

const (
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 128

	paragraphSep = "\n\n"
	sentenceSep  = " "
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Chunker splits paginated text into token-bounded chunks. Consecutive chunks
// share a seed of trailing text unless the boundary between them is a section
// boundary (an oversized paragraph starts) or no seed fits the budget.
type Chunker struct {
	tok           Tokenizer
	maxTokens     int
	overlapTokens int
	citations     *CitationExtractor
}

func NewChunker(tok Tokenizer, maxTokens, overlapTokens int, ext *CitationExtractor) *Chunker {
	if tok == nil {
		tok = WordTokenizer{}
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &Chunker{tok: tok, maxTokens: maxTokens, overlapTokens: overlapTokens, citations: ext}
}

// unit is a paragraph or sentence placed into a chunk. sep is written before
// it when it follows another unit.
type unit struct {
	text string
	sep  string
	page int
}

type chunkState struct {
	c       *Chunker
	chunks  []document.Chunk
	pending []unit
	overlap int
}

// Chunk splits pages into chunks. Empty input yields no chunks. Budgets are
// measured on the joined chunk text, separators included.
func (c *Chunker) Chunk(pages []document.Page) []document.Chunk {
	st := &chunkState{c: c}
	for _, page := range pages {
		for _, para := range splitParagraphs(page.Text) {
			u := unit{text: para, sep: paragraphSep, page: page.Index}
			switch {
			case c.tok.CountTokens(para) > c.maxTokens:
				st.flush()
				st.reset(nil)
				st.addSentences(para, page.Index)
			case len(st.pending) > 0 && !c.fits(st.pending, u):
				st.flush()
				st.reset(c.seed(st.pending, 1, u))
				st.add(u)
			default:
				st.add(u)
			}
		}
	}
	st.flush()
	return st.chunks
}

func (st *chunkState) addSentences(para string, page int) {
	for i, sent := range splitSentences(para) {
		u := unit{text: sent, sep: sentenceSep, page: page}
		if i == 0 {
			u.sep = paragraphSep
		}
		if len(st.pending) > 0 && !st.c.fits(st.pending, u) {
			st.flush()
			st.reset(st.c.seed(st.pending, 2, u))
		}
		st.add(u)
	}
}

// fits reports whether units followed by next stay within maxTokens.
func (c *Chunker) fits(units []unit, next unit) bool {
	joined := append(units[:len(units):len(units)], next)
	return c.tok.CountTokens(joinUnits(joined)) <= c.maxTokens
}

func (st *chunkState) add(u unit) {
	st.pending = append(st.pending, u)
}

// reset starts a new chunk from seed.
func (st *chunkState) reset(seed []unit) {
	st.pending = append([]unit(nil), seed...)
	st.overlap = len(joinUnits(seed))
}

func (st *chunkState) flush() {
	if len(st.pending) == 0 {
		return
	}
	content := joinUnits(st.pending)
	markers := ExtractParagraphMarkers(content)
	paragraph := ""
	if len(markers) > 0 {
		paragraph = markers[0]
	}
	st.chunks = append(st.chunks, document.Chunk{
		ChunkID:             len(st.chunks),
		Content:             content,
		PageNumber:          st.pending[len(st.pending)-1].page,
		ParagraphNumber:     paragraph,
		RegulatoryCitations: st.c.citations.ExtractCitations(content),
		TokenCount:          st.c.tok.CountTokens(content),
		OverlapLength:       st.overlap,
	})
}

// seed picks the text carried into the next chunk: up to maxUnits trailing
// units, or failing that the last one or two sentences of the final unit. A
// seed must leave room for the incoming unit. Seeds within overlapTokens are
// preferred over longer ones.
func (c *Chunker) seed(pending []unit, maxUnits int, incoming unit) []unit {
	if c.overlapTokens == 0 || len(pending) == 0 {
		return nil
	}
	var candidates [][]unit
	for n := min(maxUnits, len(pending)); n >= 1; n-- {
		candidates = append(candidates, pending[len(pending)-n:])
	}
	last := pending[len(pending)-1]
	if sents := splitSentences(last.text); len(sents) > 1 {
		for n := min(2, len(sents)-1); n >= 1; n-- {
			candidates = append(candidates, []unit{{
				text: strings.Join(sents[len(sents)-n:], sentenceSep),
				sep:  last.sep,
				page: last.page,
			}})
		}
	}

	var fallback []unit
	for _, cand := range candidates {
		if !c.fits(cand, incoming) {
			continue
		}
		if c.tok.CountTokens(joinUnits(cand)) <= c.overlapTokens {
			return cand
		}
		if fallback == nil {
			fallback = cand
		}
	}
	return fallback
}

func joinUnits(units []unit) string {
	var b strings.Builder
	for i, u := range units {
		if i > 0 {
			b.WriteString(u.sep)
		}
		b.WriteString(u.text)
	}
	return b.String()
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLine.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences breaks text after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		for j < len(text) && text[j] < unicode.MaxASCII && unicode.IsSpace(rune(text[j])) {
			j++
		}
		if j == i+1 {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
