package smt

import (
	"errors"
	"testing"
)

func TestGenerateAndVerifyInclusionProof(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	keys := [][]byte{{0, 0, 0, 0}, {0, 0, 0, 1}, {0, 0, 0, 2}, {1}, {2}, {3}}
	for _, k := range keys {
		if err := tr.Insert(key(k), []byte("DATA")); err != nil {
			t.Fatal(err)
		}
	}

	for _, k := range keys {
		proof, err := tr.GenerateProof(key(k))
		if err != nil {
			t.Fatalf("GenerateProof(%x): %v", k, err)
		}
		if proof.Kind != Inclusion {
			t.Fatalf("GenerateProof(%x).Kind = %s, want inclusion", k, proof.Kind)
		}
		if !Verify(proof) {
			t.Fatalf("Verify failed for inclusion proof of %x", k)
		}
	}
}

func TestGenerateAndVerifyExclusionProofEmptyTree(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	proof, err := tr.GenerateProof(key([]byte("missing")))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Kind != Exclusion {
		t.Fatalf("Kind = %s, want exclusion", proof.Kind)
	}
	if !Verify(proof) {
		t.Fatal("Verify failed for exclusion proof against the empty tree")
	}
}

func TestGenerateAndVerifyExclusionProofVacantSlot(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	for _, k := range [][]byte{{0, 0, 0, 0}, {1, 0, 0, 0}} {
		if err := tr.Insert(key(k), []byte("DATA")); err != nil {
			t.Fatal(err)
		}
	}

	proof, err := tr.GenerateProof(key([]byte("definitely not present")))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Kind != Exclusion {
		t.Fatalf("Kind = %s, want exclusion", proof.Kind)
	}
	if !Verify(proof) {
		t.Fatal("Verify failed for exclusion proof at a vacant slot")
	}
}

func TestGenerateAndVerifyExclusionProofMismatchedLeaf(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	if err := tr.Insert(key([]byte("only key")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}

	proof, err := tr.GenerateProof(key([]byte("a different key")))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Kind != Exclusion {
		t.Fatalf("Kind = %s, want exclusion", proof.Kind)
	}
	if proof.Leaf == nil {
		t.Fatal("expected a terminal leaf in the exclusion proof")
	}
	if !Verify(proof) {
		t.Fatal("Verify failed for exclusion proof against a mismatched leaf")
	}
}

func TestVerifyRejectsTamperedRoot(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}
	proof, err := tr.GenerateProof(key([]byte("a")))
	if err != nil {
		t.Fatal(err)
	}
	proof.Root[0] ^= 0xFF
	if Verify(proof) {
		t.Fatal("Verify accepted a proof against a tampered root")
	}
}

func TestVerifyRejectsInclusionProofRelabelledAsExclusion(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(key([]byte("c")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}

	proof, err := tr.GenerateProof(key([]byte("a")))
	if err != nil {
		t.Fatal(err)
	}
	if proof.Kind != Inclusion {
		t.Fatalf("Kind = %s, want inclusion", proof.Kind)
	}

	proof.Key = key([]byte("c"))
	proof.Kind = Exclusion
	if Verify(proof) {
		t.Fatal("Verify accepted an inclusion proof for \"a\" relabelled as an exclusion proof for \"c\"")
	}
}

// TestGenerateProofRejectsNonMonotonicHeight corrupts a stored internal
// node's height field in place (its hash commits to its children only, not
// its height, so the node's content address survives the corruption) to
// produce a descent where depth does not strictly increase. GenerateProof
// must refuse to fabricate a proof over that state rather than silently
// emit a wrong or infinite-looking one.
func TestGenerateProofRejectsNonMonotonicHeight(t *testing.T) {
	storage := NewMemoryStorage()
	tr := NewTree(storage)

	var k0, k1, k2 Hash
	k0[0] = 0x00
	k1[0] = 0x00
	k1[31] = 0x01
	k2[0] = 0x80

	for _, k := range []Hash{k0, k1, k2} {
		if err := tr.Insert(k, []byte("DATA")); err != nil {
			t.Fatal(err)
		}
	}

	root, err := tr.loadNode(tr.root)
	if err != nil {
		t.Fatal(err)
	}
	if root.IsLeaf() || root.Height != 256 {
		t.Fatalf("unexpected root shape: %+v", root)
	}
	child := root.LeftChild()
	if bitAt(k0, 0) == 1 {
		child = root.RightChild()
	}

	orig, err := tr.loadNode(child)
	if err != nil {
		t.Fatal(err)
	}
	if orig.IsLeaf() || orig.Height != 1 {
		t.Fatalf("expected a height-1 internal node beneath the root, got %+v", orig)
	}

	corrupted := EncodeNode(&Node{Height: 256, Prefix: orig.Prefix, Suffix: orig.Suffix})
	if err := storage.Insert(child, &corrupted); err != nil {
		t.Fatal(err)
	}

	_, err = tr.GenerateProof(k0)
	if !errors.Is(err, ErrProofGeneration) {
		t.Fatalf("GenerateProof with a non-monotonic height = %v, want ErrProofGeneration", err)
	}
}

func TestVerifyRejectsWrongKeyClaimedAsIncluded(t *testing.T) {
	tr := NewTree(NewMemoryStorage())
	if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}
	proof, err := tr.GenerateProof(key([]byte("a")))
	if err != nil {
		t.Fatal(err)
	}
	proof.Key = key([]byte("b"))
	if Verify(proof) {
		t.Fatal("Verify accepted an inclusion proof re-targeted at a different key")
	}
}
