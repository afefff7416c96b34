package chunker

import (
	"regexp"
	"strings"
)

// Segment is one synthesizable span of text.
type Segment struct {
	Index            int
	Text             string
	SentenceBoundary bool
}

var (
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)
	clauseRe   = regexp.MustCompile(`[^,;]+[,;]*`)
)

// Segments is a lazy, single-consume iterator over text segments. It is
// finite and not restartable; call Split again to re-iterate.
type Segments struct {
	units    []string
	maxChars int
	next     int
	index    int
}

// Split breaks text into segments no longer than maxChars, respecting
// sentence boundaries first, then clause punctuation, then whitespace.
// A word is never split. Empty or whitespace-only input yields no segments.
func Split(text string, maxChars int) *Segments {
	if maxChars <= 0 {
		maxChars = 150
	}
	var units []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			units = append(units, trimmed)
		}
	}
	return &Segments{units: units, maxChars: maxChars}
}

// Next returns the next segment in source order. The second return value is
// false once the sequence is exhausted.
func (s *Segments) Next() (Segment, bool) {
	var current string
	for s.next < len(s.units) {
		unit := s.units[s.next]
		if current == "" && len(unit) > s.maxChars {
			if s.expandHead() {
				continue
			}
			// A single word longer than the limit is emitted whole.
			s.next++
			current = unit
			break
		}
		if current == "" {
			current = unit
			s.next++
			continue
		}
		if len(current)+1+len(unit) <= s.maxChars {
			current = current + " " + unit
			s.next++
			continue
		}
		break
	}
	if current == "" {
		return Segment{}, false
	}
	seg := Segment{
		Index:            s.index,
		Text:             current,
		SentenceBoundary: strings.HasSuffix(current, ".") || strings.HasSuffix(current, "!") || strings.HasSuffix(current, "?"),
	}
	s.index++
	return seg, true
}

// Collect drains the iterator into a slice.
func (s *Segments) Collect() []Segment {
	var out []Segment
	for {
		seg, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, seg)
	}
}

// expandHead replaces the oversized head unit with clause-level pieces,
// falling back to whitespace splits for clauses that are still too long.
// Returns false when the unit cannot be broken down any further.
func (s *Segments) expandHead() bool {
	unit := s.units[s.next]
	var pieces []string
	for _, clause := range clauseRe.FindAllString(unit, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if len(clause) <= s.maxChars {
			pieces = append(pieces, clause)
			continue
		}
		pieces = append(pieces, splitWords(clause, s.maxChars)...)
	}
	if len(pieces) == 1 && pieces[0] == unit {
		return false
	}
	rest := append([]string{}, s.units[s.next+1:]...)
	s.units = append(s.units[:s.next], append(pieces, rest...)...)
	return true
}

// splitWords greedily packs words into runs of at most maxChars. A single
// word longer than the limit is emitted whole.
func splitWords(text string, maxChars int) []string {
	words := strings.Fields(text)
	var out []string
	var current string
	for _, w := range words {
		switch {
		case current == "":
			current = w
		case len(current)+1+len(w) <= maxChars:
			current = current + " " + w
		default:
			out = append(out, current)
			current = w
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}
