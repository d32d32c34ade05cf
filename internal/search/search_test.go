package search

import (
	"context"
	"testing"
)

func TestSearchCaseInsensitiveRuneOffsets(t *testing.T) {
	entries := []Entry{
		{MsgID: "m1", Body: "Hello there"},
		{MsgID: "m2", Body: "nothing here"},
		{MsgID: "m3", Body: "hello HELLO"},
	}
	matches, err := Search(context.Background(), "hello", entries)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matching messages, got %d", len(matches))
	}
	if matches[0].MsgID != "m1" || matches[1].MsgID != "m3" {
		t.Fatalf("matches out of conversation order: %v", matches)
	}
	if got := matches[0].Ranges; len(got) != 1 || got[0] != (Range{0, 5}) {
		t.Fatalf("m1 ranges = %v", got)
	}
	if got := matches[1].Ranges; len(got) != 2 || got[0] != (Range{0, 5}) || got[1] != (Range{6, 11}) {
		t.Fatalf("m3 ranges = %v", got)
	}
}

func TestSearchUnicodeOffsets(t *testing.T) {
	// 4 runes of prefix, so byte offsets would be wrong here.
	entries := []Entry{{MsgID: "m1", Body: "héllo wörld"}}
	matches, err := Search(context.Background(), "WÖRLD", entries)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected a match, got %v", matches)
	}
	if got := matches[0].Ranges[0]; got != (Range{6, 11}) {
		t.Fatalf("rune range = %v, want {6 11}", got)
	}
	body := []rune(entries[0].Body)
	if string(body[matches[0].Ranges[0].Start:matches[0].Ranges[0].End]) != "wörld" {
		t.Fatal("range does not slice back to the matched text")
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	entries := []Entry{{MsgID: "m1", Body: "anything"}}
	for _, q := range []string{"", "   "} {
		matches, err := Search(context.Background(), q, entries)
		if err != nil {
			t.Fatal(err)
		}
		if matches != nil {
			t.Fatalf("query %q should match nothing, got %v", q, matches)
		}
	}
}

func TestSearchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Search(ctx, "x", []Entry{{MsgID: "m1", Body: "x"}})
	if err == nil {
		t.Fatal("cancelled search should return the context error")
	}
}

func TestSelectionStableAcrossUpdates(t *testing.T) {
	var sel Selection
	sel.Update([]Match{{MsgID: "m1"}, {MsgID: "m2"}, {MsgID: "m3"}})
	sel.Next()
	if sel.Current().MsgID != "m2" {
		t.Fatalf("selected %s, want m2", sel.Current().MsgID)
	}

	// m2 survives the refresh at a new index.
	sel.Update([]Match{{MsgID: "m0"}, {MsgID: "m2"}, {MsgID: "m3"}})
	if sel.Current().MsgID != "m2" {
		t.Fatalf("selection should follow m2, got %s", sel.Current().MsgID)
	}

	// m2 vanished, reset to first.
	sel.Update([]Match{{MsgID: "m0"}, {MsgID: "m3"}})
	if sel.Current().MsgID != "m0" {
		t.Fatalf("selection should reset to first, got %s", sel.Current().MsgID)
	}

	sel.Update(nil)
	if sel.Current() != nil {
		t.Fatal("empty result set should have no selection")
	}
	sel.Next()
	sel.Prev()
}

func TestSelectionWraps(t *testing.T) {
	var sel Selection
	sel.Update([]Match{{MsgID: "a"}, {MsgID: "b"}})
	sel.Prev()
	if sel.Current().MsgID != "b" {
		t.Fatalf("Prev should wrap to b, got %s", sel.Current().MsgID)
	}
	sel.Next()
	if sel.Current().MsgID != "a" {
		t.Fatalf("Next should wrap to a, got %s", sel.Current().MsgID)
	}
	if sel.Len() != 2 {
		t.Fatalf("Len = %d", sel.Len())
	}
}
