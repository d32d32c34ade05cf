package delivery

import "testing"

func TestCanAdvanceForwardOnly(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Sending, Sent, true},
		{Sent, Delivered, true},
		{Delivered, Read, true},
		{Sending, Read, true},
		{Sent, Read, true},

		// Regressions are dropped.
		{Read, Delivered, false},
		{Delivered, Sent, false},
		{Sent, Sending, false},
		{Read, Read, false},
		{Delivered, Delivered, false},

		// Failed only from sending; restart only to sending.
		{Sending, Failed, true},
		{Sent, Failed, false},
		{Delivered, Failed, false},
		{Read, Failed, false},
		{Failed, Sending, true},
		{Failed, Sent, false},

		// Non-outgoing states never advance.
		{Received, Sent, false},
		{Corrupted, Read, false},
	}

	for _, tc := range cases {
		if got := CanAdvance(tc.from, tc.to); got != tc.want {
			t.Errorf("CanAdvance(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRank(t *testing.T) {
	if Rank(Sending) >= Rank(Sent) || Rank(Sent) >= Rank(Delivered) || Rank(Delivered) >= Rank(Read) {
		t.Error("rank order is not strictly increasing")
	}
	if Rank(Failed) != -1 || Rank(Received) != -1 || Rank(Corrupted) != -1 {
		t.Error("unranked states must return -1")
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("delivered"); err != nil {
		t.Errorf("Parse(delivered) error = %v", err)
	}
	if _, err := Parse("bogus"); err == nil {
		t.Error("Parse(bogus) = nil, want error")
	}
}
