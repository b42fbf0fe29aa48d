package smt

import (
	"testing"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// testAllStorage runs fn against every Storage backend this package ships,
// the way mpt/tree_test.go exercises each backend with the same property.
func testAllStorage(t *testing.T, fn func(t *testing.T, newStorage func() Storage)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, func() Storage { return NewMemoryStorage() })
	})
}

func key(data []byte) Hash {
	return merkle.Sum(data)
}

func mustHex(t *testing.T, h Hash, want string) {
	t.Helper()
	got := h.String()
	if got != want {
		t.Fatalf("root = %s, want %s", got, want)
	}
}

func TestEmptyTreeRootIsZero(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		tr := NewTree(newStorage())
		if tr.Root() != merkle.ZeroHash {
			t.Fatalf("root = %s, want zero", tr.Root())
		}
	})
}

func TestEndToEndScenarios(t *testing.T) {
	const (
		root1 = "0000000000000000000000000000000000000000000000000000000000000000"
		root2 = "2d160499ae72cf3ecefc4a281d1fae5cb0cf413f302d553a99ec387b80d6b696"
		root3 = "eea54dae5684cddac293bbb15ef31f52dcf0dd5d2b12e63ff66f11cfc01f6a77"
		root4 = "f205a9a0107a8ebcc439bfe622527cdf0833c43ca5e436c1da85ccdbc7860c80"
	)

	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		t.Run("empty", func(t *testing.T) {
			tr := NewTree(newStorage())
			mustHex(t, tr.Root(), root1)
		})

		t.Run("single insert", func(t *testing.T) {
			tr := NewTree(newStorage())
			if err := tr.Insert(key([]byte{0, 0, 0, 0}), []byte("DATA")); err != nil {
				t.Fatal(err)
			}
			mustHex(t, tr.Root(), root2)
		})

		t.Run("two inserts", func(t *testing.T) {
			tr := NewTree(newStorage())
			if err := tr.Insert(key([]byte{0, 0, 0, 0}), []byte("DATA")); err != nil {
				t.Fatal(err)
			}
			if err := tr.Insert(key([]byte{0, 0, 0, 1}), []byte("DATA")); err != nil {
				t.Fatal(err)
			}
			mustHex(t, tr.Root(), root3)
		})

		t.Run("three inserts", func(t *testing.T) {
			tr := NewTree(newStorage())
			for _, b := range [][]byte{{0, 0, 0, 0}, {0, 0, 0, 1}, {0, 0, 0, 2}} {
				if err := tr.Insert(key(b), []byte("DATA")); err != nil {
					t.Fatal(err)
				}
			}
			mustHex(t, tr.Root(), root4)
		})

		t.Run("insert then delete returns to empty root", func(t *testing.T) {
			tr := NewTree(newStorage())
			k := key([]byte{0, 0, 0, 0})
			if err := tr.Insert(k, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
			if err := tr.Delete(k); err != nil {
				t.Fatal(err)
			}
			mustHex(t, tr.Root(), root1)
		})

		t.Run("insert two then delete one returns to single-leaf root", func(t *testing.T) {
			tr := NewTree(newStorage())
			k0, k1 := key([]byte{0, 0, 0, 0}), key([]byte{0, 0, 0, 1})
			if err := tr.Insert(k0, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
			if err := tr.Insert(k1, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
			if err := tr.Delete(k1); err != nil {
				t.Fatal(err)
			}
			mustHex(t, tr.Root(), root2)
		})
	})
}

func TestInsertIsOrderIndependent(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		keys := make([]Hash, 0, 8)
		for i := 0; i < 8; i++ {
			keys = append(keys, key([]byte{byte(i)}))
		}

		forward := NewTree(newStorage())
		for _, k := range keys {
			if err := forward.Insert(k, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
		}

		reverse := NewTree(newStorage())
		for i := len(keys) - 1; i >= 0; i-- {
			if err := reverse.Insert(keys[i], []byte("DATA")); err != nil {
				t.Fatal(err)
			}
		}

		if forward.Root() != reverse.Root() {
			t.Fatalf("forward root %s != reverse root %s", forward.Root(), reverse.Root())
		}
	})
}

func TestLookupReturnsLastInsertedValue(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		tr := NewTree(newStorage())
		k := key([]byte("a"))
		if err := tr.Insert(k, []byte("first")); err != nil {
			t.Fatal(err)
		}
		if err := tr.Insert(k, []byte("second")); err != nil {
			t.Fatal(err)
		}
		vh, ok, err := tr.Lookup(k)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("Lookup reported key absent after insert")
		}
		if want := merkle.Sum([]byte("second")); vh != want {
			t.Fatalf("Lookup = %s, want %s", vh, want)
		}
	})
}

func TestLookupAbsentKey(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		tr := NewTree(newStorage())
		if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
			t.Fatal(err)
		}
		_, ok, err := tr.Lookup(key([]byte("b")))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("Lookup reported a key that was never inserted as present")
		}
	})
}

func TestDeleteAbsentKeyIsNoOp(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		tr := NewTree(newStorage())
		if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
			t.Fatal(err)
		}
		before := tr.Root()
		if err := tr.Delete(key([]byte("b"))); err != nil {
			t.Fatal(err)
		}
		if tr.Root() != before {
			t.Fatalf("root changed after deleting an absent key: %s != %s", tr.Root(), before)
		}
	})
}

func TestDeleteFromEmptyTreeIsNoOp(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		tr := NewTree(newStorage())
		if err := tr.Delete(key([]byte("a"))); err != nil {
			t.Fatal(err)
		}
		if tr.Root() != merkle.ZeroHash {
			t.Fatalf("root = %s, want zero", tr.Root())
		}
	})
}

func TestDoubleInsertSameValueIsIdempotent(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		tr := NewTree(newStorage())
		k := key([]byte("a"))
		if err := tr.Insert(k, []byte("DATA")); err != nil {
			t.Fatal(err)
		}
		root := tr.Root()
		if err := tr.Insert(k, []byte("DATA")); err != nil {
			t.Fatal(err)
		}
		if tr.Root() != root {
			t.Fatalf("root changed on identical re-insert: %s != %s", tr.Root(), root)
		}
	})
}

func TestInsertThenDeleteLeavesNoOrphans(t *testing.T) {
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		storage := newStorage()
		tr := NewTree(storage)
		keys := make([]Hash, 0, 20)
		for i := 0; i < 20; i++ {
			keys = append(keys, key([]byte{byte(i)}))
		}
		for _, k := range keys {
			if err := tr.Insert(k, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
		}
		for _, k := range keys {
			if err := tr.Delete(k); err != nil {
				t.Fatal(err)
			}
		}
		if tr.Root() != merkle.ZeroHash {
			t.Fatalf("root = %s, want zero after deleting every inserted key", tr.Root())
		}

		mem, ok := storage.(*memoryStorage)
		if !ok {
			return
		}
		if n := len(mem.nodes); n != 0 {
			t.Fatalf("%d orphaned nodes remain in storage after draining the tree", n)
		}
	})
}

func TestFullTreeInsertOrderIndependenceLarger(t *testing.T) {
	const n = 200
	testAllStorage(t, func(t *testing.T, newStorage func() Storage) {
		keys := make([]Hash, 0, n)
		for i := 0; i < n; i++ {
			keys = append(keys, key([]byte{byte(i), byte(i >> 8)}))
		}

		forward := NewTree(newStorage())
		for _, k := range keys {
			if err := forward.Insert(k, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
		}

		shuffled := make([]Hash, len(keys))
		copy(shuffled, keys)
		for i := range shuffled {
			j := (i*2654435761 + 7) % len(shuffled)
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}

		shuffledTree := NewTree(newStorage())
		for _, k := range shuffled {
			if err := shuffledTree.Insert(k, []byte("DATA")); err != nil {
				t.Fatal(err)
			}
		}

		if forward.Root() != shuffledTree.Root() {
			t.Fatalf("insertion order changed the root: %s != %s", forward.Root(), shuffledTree.Root())
		}
	})
}
