package smt

import "testing"

func entriesFor(keys ...[]byte) []Entry {
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: key(k), Value: []byte("DATA")}
	}
	return entries
}

func TestRootFromSetMatchesSequentialInsert(t *testing.T) {
	entries := entriesFor([]byte{0, 0, 0, 0}, []byte{0, 0, 0, 1}, []byte{0, 0, 0, 2})

	sequential := NewTree(NewMemoryStorage())
	for _, e := range entries {
		if err := sequential.Insert(e.Key, e.Value); err != nil {
			t.Fatal(err)
		}
	}

	got := RootFromSet(entries)
	if got != sequential.Root() {
		t.Fatalf("RootFromSet = %s, want %s", got, sequential.Root())
	}
}

func TestFromSetMatchesSequentialInsert(t *testing.T) {
	entries := entriesFor([]byte{0, 0, 0, 0}, []byte{0, 0, 0, 1}, []byte{0, 0, 0, 2})

	sequential := NewTree(NewMemoryStorage())
	for _, e := range entries {
		if err := sequential.Insert(e.Key, e.Value); err != nil {
			t.Fatal(err)
		}
	}

	tr, err := FromSet(NewMemoryStorage(), entries)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Root() != sequential.Root() {
		t.Fatalf("FromSet root = %s, want %s", tr.Root(), sequential.Root())
	}
}

func TestNodesFromSetMatchesSequentialInsert(t *testing.T) {
	entries := entriesFor([]byte{0, 0, 0, 0}, []byte{0, 0, 0, 1}, []byte{0, 0, 0, 2})

	sequential := NewTree(NewMemoryStorage())
	for _, e := range entries {
		if err := sequential.Insert(e.Key, e.Value); err != nil {
			t.Fatal(err)
		}
	}

	root, nodes := NodesFromSet(entries)
	if root != sequential.Root() {
		t.Fatalf("NodesFromSet root = %s, want %s", root, sequential.Root())
	}
	if len(nodes) == 0 {
		t.Fatal("NodesFromSet returned no writes for a non-empty set")
	}

	// Every recorded write must decode and re-hash to its own key.
	for _, rec := range nodes {
		n, err := DecodeNode(rec.Primitive)
		if err != nil {
			t.Fatalf("recorded primitive for %s does not decode: %v", rec.Hash, err)
		}
		if n.Hash() != rec.Hash {
			t.Fatalf("recorded primitive hashes to %s, want %s", n.Hash(), rec.Hash)
		}
	}
}

func TestRootFromSetEmpty(t *testing.T) {
	if got := RootFromSet(nil); !got.IsZero() {
		t.Fatalf("RootFromSet(nil) = %s, want zero", got)
	}
}
