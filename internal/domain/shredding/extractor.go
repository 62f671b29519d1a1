package shredding

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinLength is the shortest unit, in runes, kept as a candidate
const DefaultMinLength = 15

// Candidate is a requirement candidate extracted from one section
type Candidate struct {
	Text         string `json:"text"`
	SectionLabel string `json:"section_label"`
	Sequence     int    `json:"sequence"`
	Position     int    `json:"position"`
	Paragraph    int    `json:"paragraph"`
	Page         int    `json:"page"`
	Offset       int    `json:"offset"`
	Hash         string `json:"hash"`
}

// ExtractorConfig configures an Extractor
type ExtractorConfig struct {
	MinLength int
}

// DefaultExtractorConfig returns the default extraction settings
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{MinLength: DefaultMinLength}
}

// Extractor turns sections into requirement candidates
type Extractor struct {
	minLength int
}

// NewExtractor creates an extractor. A non-positive MinLength uses the default.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	return &Extractor{minLength: cfg.MinLength}
}

// labelState carries sequence numbering and the dedup set of one label
type labelState struct {
	next int
	seen map[string]struct{}
}

func newLabelState() *labelState {
	return &labelState{next: 1, seen: make(map[string]struct{})}
}

// Extract returns a single-pass stream over the candidates of section.
// source is the full document text the section offsets refer to.
func (e *Extractor) Extract(section Section, source string) *CandidateStream {
	return e.stream(section, source, newLabelState(), newPageIndex(source))
}

// ExtractAll extracts every section of a document. Sections sharing a label
// continue that label's numbering and dedup set. With no sections the whole
// text is one unlabeled section.
func (e *Extractor) ExtractAll(sections []Section, source string) []Candidate {
	if len(sections) == 0 {
		sections = []Section{WholeDocument(source)}
	}

	pages := newPageIndex(source)
	states := make(map[string]*labelState)
	out := make([]Candidate, 0)
	for _, s := range sections {
		st, ok := states[s.Label]
		if !ok {
			st = newLabelState()
			states[s.Label] = st
		}
		stream := e.stream(s, source, st, pages)
		for stream.Next() {
			out = append(out, stream.Candidate())
		}
	}
	return out
}

func (e *Extractor) stream(section Section, source string, st *labelState, pages pageIndex) *CandidateStream {
	start, end := clampRange(section.Start, section.End, len(source))
	return &CandidateStream{
		extractor:  e,
		section:    section,
		source:     source,
		paragraphs: splitParagraphs(source, start, end),
		state:      st,
		pages:      pages,
	}
}

// keep applies the keyword, length and dedup filters and assigns a sequence
func (e *Extractor) keep(u unit, st *labelState) (Candidate, bool) {
	if !HasObligation(u.text) {
		return Candidate{}, false
	}
	if utf8.RuneCountInString(u.text) < e.minLength {
		return Candidate{}, false
	}
	hash := TextHash(u.text)
	if _, dup := st.seen[hash]; dup {
		return Candidate{}, false
	}
	st.seen[hash] = struct{}{}

	c := Candidate{Text: u.text, Sequence: st.next, Offset: u.offset, Hash: hash}
	st.next++
	return c, true
}

// unit is one sentence-level segment, whitespace-normalized
type unit struct {
	text   string
	offset int
}

// span is a byte range of the source
type span struct {
	start, end int
}

// splitParagraphs cuts source[start:end] at blank lines. Lines holding only
// whitespace or form feeds count as blank.
func splitParagraphs(source string, start, end int) []span {
	var out []span
	paraStart := -1
	for offset := start; offset < end; {
		nl := strings.IndexByte(source[offset:end], '\n')
		next := end
		if nl >= 0 {
			next = offset + nl + 1
		}
		blank := strings.TrimSpace(source[offset:next]) == ""
		switch {
		case blank && paraStart >= 0:
			out = append(out, span{paraStart, offset})
			paraStart = -1
		case !blank && paraStart < 0:
			paraStart = offset
		}
		offset = next
	}
	if paraStart >= 0 {
		out = append(out, span{paraStart, end})
	}
	return out
}

// splitSentences segments a paragraph. A boundary is a terminator, optional
// closing quotes or brackets, whitespace, then an upper-case letter.
func splitSentences(source string, p span) []unit {
	text := source[p.start:p.end]
	var out []unit
	segStart := 0

	emit := func(from, to int) {
		raw := text[from:to]
		trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
		norm := NormalizeWhitespace(trimmed)
		if norm == "" {
			return
		}
		out = append(out, unit{text: norm, offset: p.start + from + (len(raw) - len(trimmed))})
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		cut := i
		for cut < len(text) {
			c, n := utf8.DecodeRuneInString(text[cut:])
			if !isCloser(c) {
				break
			}
			cut += n
		}
		ws := cut
		for ws < len(text) {
			c, n := utf8.DecodeRuneInString(text[ws:])
			if !unicode.IsSpace(c) {
				break
			}
			ws += n
		}
		if ws == cut || ws >= len(text) {
			continue
		}
		if c, _ := utf8.DecodeRuneInString(text[ws:]); unicode.IsUpper(c) {
			emit(segStart, cut)
			segStart = ws
			i = ws
		}
	}
	emit(segStart, len(text))
	return out
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func clampRange(start, end, n int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > n || end < 0 {
		end = n
	}
	if start > end {
		start = end
	}
	return start, end
}

// pageIndex holds the offsets of form feeds in the source
type pageIndex []int

func newPageIndex(source string) pageIndex {
	var idx pageIndex
	for i := 0; i < len(source); i++ {
		if source[i] == '\f' {
			idx = append(idx, i)
		}
	}
	return idx
}

// page returns the 1-based page of offset, or 0 when the source has no form feeds
func (p pageIndex) page(offset int) int {
	if len(p) == 0 {
		return 0
	}
	return sort.SearchInts(p, offset) + 1
}
