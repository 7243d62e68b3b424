package activity

import "testing"

func TestFeedRecentNewestFirst(t *testing.T) {
	f := NewFeed(10)
	f.Record("r1", "join", "alice")
	f.Record("r1", "join", "bob")
	f.Record("r2", "execution", "carol")

	entries := f.Recent(0)
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Username != "carol" || entries[2].Username != "alice" {
		t.Errorf("order = [%s %s %s], want newest first", entries[0].Username, entries[1].Username, entries[2].Username)
	}
}

func TestFeedWrapsAtCapacity(t *testing.T) {
	f := NewFeed(3)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.Record("r1", "join", name)
	}

	if f.Len() != 3 {
		t.Fatalf("Len = %d, want capacity 3", f.Len())
	}
	entries := f.Recent(0)
	got := []string{entries[0].Username, entries[1].Username, entries[2].Username}
	want := []string{"e", "d", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v, want %v (oldest overwritten)", got, want)
		}
	}
}

func TestFeedRecentLimit(t *testing.T) {
	f := NewFeed(10)
	for _, name := range []string{"a", "b", "c"} {
		f.Record("r1", "join", name)
	}

	entries := f.Recent(2)
	if len(entries) != 2 || entries[0].Username != "c" {
		t.Errorf("Recent(2) = %v, want the 2 newest", entries)
	}
	if got := f.Recent(100); len(got) != 3 {
		t.Errorf("limit above retained count should return everything, got %d", len(got))
	}
}

func TestFeedEmpty(t *testing.T) {
	f := NewFeed(5)
	if f.Len() != 0 {
		t.Errorf("Len = %d, want 0", f.Len())
	}
	if got := f.Recent(10); got != nil {
		t.Errorf("Recent on empty feed = %v, want nil", got)
	}
}
