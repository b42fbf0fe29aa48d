// Package bmt is the binary Merkle tree companion to the sparse tree in
// smt: an append-only hash list over a sequence of records, grounded in the
// same MTH(D[n]) recursion used by RFC 6962 and by torchwood's own
// stored-hash-index proof algebra in tlogx.go, but hashed with this
// module's BLAKE3 leaf/node conventions instead of tlog's SHA-256 ones.
package bmt

import (
	"errors"
	"fmt"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// Hash is the digest type shared with the sparse tree.
type Hash = merkle.Hash

// Storage holds the leaf sums of an append-only sequence. Every other hash
// in the tree is a pure function of the leaves, so nothing but the leaves
// themselves needs to be persisted.
type Storage interface {
	// Append records a leaf sum as the next entry and returns its index.
	Append(leaf Hash) (index int64, err error)
	// Leaf returns the leaf sum at index i, which must satisfy 0 <= i < Size().
	Leaf(i int64) (Hash, error)
	// Size returns the number of leaves appended so far.
	Size() int64
}

// memoryStorage is an in-memory Storage backed by a growable slice.
type memoryStorage struct {
	leaves []Hash
}

// NewMemoryStorage returns an empty in-memory Storage.
func NewMemoryStorage() Storage { return &memoryStorage{} }

func (s *memoryStorage) Append(leaf Hash) (int64, error) {
	s.leaves = append(s.leaves, leaf)
	return int64(len(s.leaves) - 1), nil
}

func (s *memoryStorage) Leaf(i int64) (Hash, error) {
	if i < 0 || i >= int64(len(s.leaves)) {
		return merkle.ZeroHash, fmt.Errorf("bmt: leaf index %d out of range [0,%d)", i, len(s.leaves))
	}
	return s.leaves[i], nil
}

func (s *memoryStorage) Size() int64 { return int64(len(s.leaves)) }

// Tree is a binary Merkle tree over a sequence of opaque records, each
// added with Add and addressed by its insertion index.
type Tree struct {
	storage Storage
}

// NewTree returns a Tree persisting its leaves to storage.
func NewTree(storage Storage) *Tree {
	return &Tree{storage: storage}
}

// Add appends data's leaf sum to the sequence and returns its index.
func (t *Tree) Add(data []byte) (int64, error) {
	return t.storage.Append(merkle.LeafSum(data))
}

// Size returns the number of records added so far.
func (t *Tree) Size() int64 { return t.storage.Size() }

// Root returns the Merkle root of the current sequence. The root of the
// empty sequence is merkle.EmptySum.
func (t *Tree) Root() (Hash, error) {
	n := t.storage.Size()
	if n == 0 {
		return merkle.EmptySum, nil
	}
	return t.subTreeHash(0, n)
}

// subTreeHash computes MTH(D[lo:hi]), the Merkle tree hash of the leaves in
// [lo, hi), following the same recursive split used by the fuel-merkle
// reference's node_sum/leaf_sum definitions: split at the largest power of
// two strictly less than the range width, hash the halves, and combine them
// with merkle.NodeHash.
func (t *Tree) subTreeHash(lo, hi int64) (Hash, error) {
	if hi-lo == 1 {
		return t.storage.Leaf(lo)
	}
	k := maxpow2(hi - lo)
	left, err := t.subTreeHash(lo, lo+k)
	if err != nil {
		return merkle.ZeroHash, err
	}
	right, err := t.subTreeHash(lo+k, hi)
	if err != nil {
		return merkle.ZeroHash, err
	}
	return merkle.NodeHash(left, right), nil
}

// maxpow2 returns the largest power of two strictly less than n, for n > 1.
// Ported from torchwood's maxpow2 in tlogx.go, which in turn documents the
// same split rule tlog.StoredHashIndex relies on.
func maxpow2(n int64) int64 {
	k := int64(1)
	for k < n {
		k <<= 1
	}
	return k >> 1
}

var errMalformedProof = errors.New("bmt: malformed inclusion proof")

// Proof is an inclusion proof for one leaf: the sibling subtree hashes
// needed to recompute the root, ordered from the leaf's immediate sibling
// up to the one nearest the root. Its shape mirrors the HashProof returned
// by torchwood's ProveHash in tlogx.go, adapted from a single stored-hash
// lookup to direct recomputation from the leaves this package persists.
type Proof []Hash

// Prove returns an inclusion proof for the leaf at index, against the tree
// as it stands (Size() leaves).
func (t *Tree) Prove(index int64) (Proof, error) {
	n := t.storage.Size()
	if index < 0 || index >= n {
		return nil, fmt.Errorf("bmt: index %d out of range [0,%d)", index, n)
	}
	return t.proveRange(0, n, index)
}

func (t *Tree) proveRange(lo, hi, i int64) (Proof, error) {
	if hi-lo == 1 {
		return Proof{}, nil
	}
	k := maxpow2(hi - lo)
	if i < lo+k {
		p, err := t.proveRange(lo, lo+k, i)
		if err != nil {
			return nil, err
		}
		sib, err := t.subTreeHash(lo+k, hi)
		if err != nil {
			return nil, err
		}
		return append(p, sib), nil
	}
	p, err := t.proveRange(lo+k, hi, i)
	if err != nil {
		return nil, err
	}
	sib, err := t.subTreeHash(lo, lo+k)
	if err != nil {
		return nil, err
	}
	return append(p, sib), nil
}

// CheckProof reports whether proof is a valid inclusion proof for leaf at
// index, within a sequence of size leaves whose root is root. It needs no
// access to the tree itself: only the leaf sum, its index, the claimed
// size, and the proof steps.
func CheckProof(root Hash, size, index int64, leaf Hash, proof Proof) error {
	if index < 0 || index >= size {
		return fmt.Errorf("bmt: index %d out of range [0,%d)", index, size)
	}
	got, err := runProof(proof, 0, size, index, leaf)
	if err != nil {
		return err
	}
	if got != root {
		return errors.New("bmt: inclusion proof does not match root")
	}
	return nil
}

func runProof(p Proof, lo, hi, i int64, h Hash) (Hash, error) {
	if hi-lo == 1 {
		if len(p) != 0 {
			return merkle.ZeroHash, errMalformedProof
		}
		return h, nil
	}
	if len(p) == 0 {
		return merkle.ZeroHash, errMalformedProof
	}
	sib := p[len(p)-1]
	k := maxpow2(hi - lo)
	if i < lo+k {
		th, err := runProof(p[:len(p)-1], lo, lo+k, i, h)
		if err != nil {
			return merkle.ZeroHash, err
		}
		return merkle.NodeHash(th, sib), nil
	}
	th, err := runProof(p[:len(p)-1], lo+k, hi, i, h)
	if err != nil {
		return merkle.ZeroHash, err
	}
	return merkle.NodeHash(sib, th), nil
}
