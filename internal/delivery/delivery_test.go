package delivery

import "testing"

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Sending, Sent},
		{Sent, Delivered},
		{Sent, Read},
		{Delivered, Read},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			if err != nil {
				t.Fatalf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if got != tt.to {
				t.Errorf("status = %s, want %s", got, tt.to)
			}
		})
	}
}

func TestBackwardTransitionsRejected(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Sent, Sending},
		{Delivered, Sent},
		{Read, Delivered},
		{Read, Sending},
		{Sending, Read}, // cannot skip the ack
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Transition(tt.from, tt.to)
			if err == nil {
				t.Fatalf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if got != tt.from {
				t.Errorf("status moved to %s on failed transition", got)
			}
		})
	}
}

func TestMergeKeepsFurthestStatus(t *testing.T) {
	tests := []struct {
		current  Status
		incoming Status
		want     Status
	}{
		{Sending, Sent, Sent},
		{Read, Sent, Read},       // stale echo must not regress
		{Delivered, Read, Read},
		{Sent, Sending, Sent},
		{Sent, "bogus", Sent},
	}
	for _, tt := range tests {
		if got := Merge(tt.current, tt.incoming); got != tt.want {
			t.Errorf("Merge(%s, %s) = %s, want %s", tt.current, tt.incoming, got, tt.want)
		}
	}
}

func TestDeriveFirstReaderWins(t *testing.T) {
	// Unacked, unread.
	if got := Derive("a", nil, false); got != Sending {
		t.Errorf("unacked = %s, want sending", got)
	}
	// Acked, unread.
	if got := Derive("a", map[string]int64{}, true); got != Sent {
		t.Errorf("acked = %s, want sent", got)
	}
	// The sender's own receipt never counts.
	if got := Derive("a", map[string]int64{"a": 1000}, true); got != Sent {
		t.Errorf("self-read = %s, want sent", got)
	}
	// One reader out of many participants is enough, even in groups.
	if got := Derive("a", map[string]int64{"b": 1000}, true); got != Read {
		t.Errorf("first reader = %s, want read", got)
	}
}

func TestVisiblePolicy(t *testing.T) {
	if Visible(true, true) {
		t.Error("group thread view must not render per-message status")
	}
	if !Visible(false, true) {
		t.Error("own messages in 1:1 threads render status")
	}
	if Visible(false, false) {
		t.Error("received messages never render sender status")
	}
}
