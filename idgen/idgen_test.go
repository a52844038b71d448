package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestEvent_PrefixAndTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := Event()
	if !strings.HasPrefix(id, EventPrefix) {
		t.Fatalf("id = %q", id)
	}
	at, ok := EventTime(id)
	if !ok {
		t.Fatalf("EventTime(%q) failed", id)
	}
	if at.Before(before) || at.After(time.Now().Add(time.Second)) {
		t.Errorf("EventTime = %v, want about now", at)
	}
}

func TestEvent_Ordered(t *testing.T) {
	prev := Event()
	for range 100 {
		id := Event()
		if id <= prev {
			t.Fatalf("%q not after %q", id, prev)
		}
		prev = id
	}
}

func TestEventTime_Rejects(t *testing.T) {
	for _, id := range []string{"", "pg_abc", "evt_not-a-uuid", "evt_6ba7b810-9dad-11d1-80b4-00c04fd430c8"} {
		if _, ok := EventTime(id); ok {
			t.Errorf("EventTime(%q) ok", id)
		}
	}
}

func TestPage(t *testing.T) {
	id := Page()
	if !strings.HasPrefix(id, PagePrefix) || len(id) != len(PagePrefix)+10 {
		t.Fatalf("id = %q", id)
	}
}

func TestShort_Alphabet(t *testing.T) {
	seen := make(map[string]bool)
	for range 500 {
		id := Short(12)()
		if len(id) != 12 {
			t.Fatalf("len(%q) = %d", id, len(id))
		}
		if strings.Trim(id, "0123456789abcdefghijklmnopqrstuvwxyz") != "" {
			t.Fatalf("bad character in %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate %q", id)
		}
		seen[id] = true
	}
	if len(New()) != 8 {
		t.Error("request id length")
	}
}
