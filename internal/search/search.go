// Package search computes match positions over resolved message bodies
// for in-conversation search. Nothing here is persisted; results are
// recomputed per query.
package search

import (
	"context"
	"strings"
	"unicode"
)

// Entry is one message as it will be rendered. Body must be the exact
// string shown to the user, so decrypted text takes precedence over any
// fallback label before the entry reaches Search.
type Entry struct {
	MsgID string
	Body  string
}

// Range is a half-open rune interval [Start, End) into the rendered body.
type Range struct {
	Start int
	End   int
}

// Match is every occurrence of the query within one message.
type Match struct {
	MsgID  string
	Ranges []Range
}

// Search returns matches in conversation order, one per message that
// contains the query. Matching is case-insensitive on a per-rune basis so
// the returned offsets stay valid into the original string. An empty or
// whitespace-only query matches nothing.
func Search(ctx context.Context, query string, entries []Entry) ([]Match, error) {
	needle := []rune(strings.TrimSpace(query))
	if len(needle) == 0 {
		return nil, nil
	}
	for i, r := range needle {
		needle[i] = unicode.ToLower(r)
	}

	var matches []Match
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ranges := findRanges([]rune(entry.Body), needle)
		if len(ranges) > 0 {
			matches = append(matches, Match{MsgID: entry.MsgID, Ranges: ranges})
		}
	}
	return matches, nil
}

// findRanges collects non-overlapping occurrences left to right.
func findRanges(body, needle []rune) []Range {
	var ranges []Range
	for i := 0; i+len(needle) <= len(body); {
		if matchAt(body, needle, i) {
			ranges = append(ranges, Range{Start: i, End: i + len(needle)})
			i += len(needle)
		} else {
			i++
		}
	}
	return ranges
}

func matchAt(body, needle []rune, at int) bool {
	for j, r := range needle {
		if unicode.ToLower(body[at+j]) != r {
			return false
		}
	}
	return true
}

// Selection tracks which match is currently focused, keeping the focused
// message stable while the underlying list changes.
type Selection struct {
	matches []Match
	index   int
}

// Update replaces the result set. If the previously selected message is
// still present the selection follows it; otherwise it resets to the first
// match.
func (s *Selection) Update(matches []Match) {
	prev := s.Current()
	s.matches = matches
	s.index = 0
	if prev == nil {
		return
	}
	for i, m := range matches {
		if m.MsgID == prev.MsgID {
			s.index = i
			return
		}
	}
}

// Current returns the selected match, or nil when there are no matches.
func (s *Selection) Current() *Match {
	if len(s.matches) == 0 {
		return nil
	}
	return &s.matches[s.index]
}

// Next advances the selection, wrapping at the end.
func (s *Selection) Next() {
	if len(s.matches) == 0 {
		return
	}
	s.index = (s.index + 1) % len(s.matches)
}

// Prev moves the selection back, wrapping at the start.
func (s *Selection) Prev() {
	if len(s.matches) == 0 {
		return
	}
	s.index = (s.index - 1 + len(s.matches)) % len(s.matches)
}

// Len reports how many messages matched.
func (s *Selection) Len() int {
	return len(s.matches)
}
