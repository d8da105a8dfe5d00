package vfs

import (
	"context"
	"testing"
)

func TestMemoryReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	if _, err := m.Read(ctx, "agents/a.md"); err == nil {
		t.Fatalf("expected ErrNotFound on empty vfs")
	}

	if err := m.Write(ctx, "agents/a.md", []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := m.Read(ctx, "agents/a.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want hello", data)
	}

	if err := m.Delete(ctx, "agents/a.md"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Read(ctx, "agents/a.md"); err == nil {
		t.Fatalf("expected ErrNotFound after delete")
	}
}

func TestMemoryListGlob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(map[string][]byte{
		"agents/a.md": []byte("a"),
		"agents/b.md": []byte("b"),
		"notes/c.txt": []byte("c"),
	})

	got, err := m.List(ctx, "agents/*.md")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(got), got)
	}
}

func TestMemorySubscribeNotifiesInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	var events []Change
	unsub := m.SubscribeChange(func(c Change) { events = append(events, c) })
	defer unsub()

	m.Write(ctx, "a", []byte("1"))
	m.Write(ctx, "b", []byte("2"))
	m.Delete(ctx, "a")

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Path != "a" || events[0].Type != ChangeWrite {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[2].Path != "a" || events[2].Type != ChangeDelete {
		t.Errorf("event 2 = %+v", events[2])
	}
}

func TestNearestPaths(t *testing.T) {
	paths := []string{"agents/researcher.md", "agents/writer.md", "notes/todo.md"}
	got := NearestPaths("agents/reseacher.md", paths, 1)
	if len(got) != 1 || got[0] != "agents/researcher.md" {
		t.Errorf("NearestPaths = %v, want [agents/researcher.md]", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
