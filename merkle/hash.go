// Package merkle defines the BLAKE3-256 hashing conventions shared by the
// sparse (smt) and binary (bmt) Merkle trees: a fixed digest type and the
// leaf/internal domain-separation prefixes that keep a leaf's hash from ever
// colliding with an internal node's.
package merkle

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Hash is an opaque 32-byte BLAKE3 digest, used both as a content value and,
// for tree nodes, as the storage key under which the node itself is kept.
type Hash [32]byte

const (
	prefixLeaf = 0x00
	prefixNode = 0x01
)

// ZeroHash represents the absent subtree: the root of an empty sparse tree,
// and the marker for a missing child on either side of an internal node.
var ZeroHash Hash

// EmptySum is BLAKE3(""), the Merkle root of the empty sequence in the
// binary tree. It is distinct from ZeroHash, which is the sparse tree's
// empty-tree root.
var EmptySum = Sum(nil)

// IsZero reports whether h is the all-zero placeholder hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// Bytes returns h as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Sum returns the BLAKE3-256 digest of data.
func Sum(data []byte) Hash { return blake3.Sum256(data) }

// LeafHash is the node-hash of a leaf carrying (leafKey, valueHash):
// H(0x00 ‖ leafKey ‖ valueHash).
func LeafHash(leafKey, valueHash Hash) Hash {
	buf := make([]byte, 0, 1+32+32)
	buf = append(buf, prefixLeaf)
	buf = append(buf, leafKey[:]...)
	buf = append(buf, valueHash[:]...)
	return Sum(buf)
}

// NodeHash is the node-hash of an internal node with the given children:
// H(0x01 ‖ left ‖ right). A child equal to ZeroHash folds in unchanged; it
// is never substituted with a placeholder value.
func NodeHash(left, right Hash) Hash {
	buf := make([]byte, 0, 1+32+32)
	buf = append(buf, prefixNode)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return Sum(buf)
}

// LeafSum is the node-hash of a binary-tree leaf carrying an arbitrary data
// blob: H(0x00 ‖ data). Unlike LeafHash, which hashes a fixed (leafKey,
// valueHash) pair for the sparse tree, LeafSum hashes the caller's raw bytes
// directly, matching MTH's leaf case for an ordered sequence of records.
func LeafSum(data []byte) Hash {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, prefixLeaf)
	buf = append(buf, data...)
	return Sum(buf)
}

// HashFromBytes copies b (which must be 32 bytes) into a Hash.
func HashFromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}
