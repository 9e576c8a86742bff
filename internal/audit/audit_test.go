package audit

import (
	"fmt"
	"testing"
)

func TestRecordAndRead(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	l.Record("store_memory", "global", map[string]any{"memory_id": "abc"})
	l.Record("delete_memory", "global", nil)
	l.Record("store_memory", "project:apollo", nil)

	entries, err := l.Read("global", 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("global entries = %d, want 2", len(entries))
	}
	if entries[0].Action != "store_memory" || entries[1].Action != "delete_memory" {
		t.Errorf("order wrong: %v", entries)
	}
	if entries[0].Details["memory_id"] != "abc" {
		t.Errorf("details lost: %v", entries[0].Details)
	}

	// Limit returns the newest entries.
	entries, err = l.Read("global", 1)
	if err != nil || len(entries) != 1 || entries[0].Action != "delete_memory" {
		t.Errorf("limited read = %v, %v", entries, err)
	}

	// Missing scope: empty, not an error.
	entries, err = l.Read("session:nope", 10)
	if err != nil || len(entries) != 0 {
		t.Errorf("missing scope read = %v, %v", entries, err)
	}
}

func TestCompact(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 30; i++ {
		l.Record("op", "global", map[string]any{"n": fmt.Sprintf("%d", i)})
	}

	dropped, err := l.Compact("global", 10)
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if dropped != 20 {
		t.Errorf("dropped = %d, want 20", dropped)
	}

	entries, err := l.Read("global", 0)
	if err != nil || len(entries) != 10 {
		t.Fatalf("entries after compact = %d (%v), want 10", len(entries), err)
	}
	if entries[len(entries)-1].Details["n"] != "29" {
		t.Errorf("newest entry lost: %v", entries[len(entries)-1])
	}

	// Nothing further to drop.
	dropped, err = l.Compact("global", 10)
	if err != nil || dropped != 0 {
		t.Errorf("repeat compact = %d, %v", dropped, err)
	}
}

func TestScopes(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l.Record("op", "global", nil)
	l.Record("op", "project:apollo", nil)
	l.Record("op", "session:s1", nil)

	scopes, err := l.Scopes()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"global": true, "project:apollo": true, "session:s1": true}
	if len(scopes) != 3 {
		t.Fatalf("scopes = %v", scopes)
	}
	for _, s := range scopes {
		if !want[s] {
			t.Errorf("unexpected scope %q", s)
		}
	}
}
