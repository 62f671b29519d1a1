package shredding

// CandidateStream yields the candidates of one section lazily, a paragraph
// at a time. It is single-pass: once Next returns false it keeps returning
// false. Call Extract again to re-extract.
type CandidateStream struct {
	extractor  *Extractor
	section    Section
	source     string
	paragraphs []span
	state      *labelState
	pages      pageIndex

	para     int
	pending  []unit
	position int
	current  Candidate
	done     bool
}

// Next advances to the next candidate
func (s *CandidateStream) Next() bool {
	if s.done {
		return false
	}
	for {
		for len(s.pending) > 0 {
			u := s.pending[0]
			s.pending = s.pending[1:]
			position := s.position
			s.position++

			c, ok := s.extractor.keep(u, s.state)
			if !ok {
				continue
			}
			c.SectionLabel = s.section.Label
			c.Position = position
			c.Paragraph = s.para
			c.Page = s.pages.page(u.offset)
			s.current = c
			return true
		}
		if s.para >= len(s.paragraphs) {
			s.done = true
			s.current = Candidate{}
			return false
		}
		s.pending = splitSentences(s.source, s.paragraphs[s.para])
		s.para++
	}
}

// Candidate returns the candidate Next advanced to
func (s *CandidateStream) Candidate() Candidate {
	return s.current
}

// Err returns the error that stopped the stream. Extraction over in-memory
// text cannot fail, so this is always nil; it keeps the stream contract
// stable for sources that can.
func (s *CandidateStream) Err() error {
	return nil
}

// Section returns the section being streamed
func (s *CandidateStream) Section() Section {
	return s.section
}
