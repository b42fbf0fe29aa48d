// Package smt implements the sparse Merkle tree: a fixed-depth, 256-level,
// content-addressed key-value accumulator. Node storage is pluggable (see
// Storage); the tree itself holds only a handle to it plus a cached root.
package smt

import "github.com/fuellabs/fuel-merkle-go/merkle"

// Hash is the shared 32-byte BLAKE3 digest type.
type Hash = merkle.Hash

// Node is the decoded form of a stored Primitive. A node is either a leaf
// (Height == 0) or an internal node (Height in [1, 256]).
//
// For a leaf, Prefix is the leaf key and Suffix is the value hash. For an
// internal node, Prefix is the left child's hash and Suffix is the right
// child's hash. Height for an internal node records the bit depth at which
// it branches: it tests bit (256-Height) of a key, counting from the MSB.
type Node struct {
	Height uint32
	Prefix Hash
	Suffix Hash
}

// IsLeaf reports whether n is a leaf node.
func (n *Node) IsLeaf() bool { return n.Height == 0 }

// LeafKey returns the leaf's key. Only valid when n.IsLeaf().
func (n *Node) LeafKey() Hash { return n.Prefix }

// ValueHash returns the leaf's committed value hash. Only valid when n.IsLeaf().
func (n *Node) ValueHash() Hash { return n.Suffix }

// LeftChild returns the internal node's left child hash, or ZeroHash if
// that subtree is absent. Only valid when !n.IsLeaf().
func (n *Node) LeftChild() Hash { return n.Prefix }

// RightChild returns the internal node's right child hash, or ZeroHash if
// that subtree is absent. Only valid when !n.IsLeaf().
func (n *Node) RightChild() Hash { return n.Suffix }

// Hash returns n's content address: its node-hash.
func (n *Node) Hash() Hash {
	if n.IsLeaf() {
		return merkle.LeafHash(n.Prefix, n.Suffix)
	}
	return merkle.NodeHash(n.Prefix, n.Suffix)
}

func newLeafNode(key, valueHash Hash) *Node {
	return &Node{Height: 0, Prefix: key, Suffix: valueHash}
}

func newInternalNode(height uint32, left, right Hash) *Node {
	return &Node{Height: height, Prefix: left, Suffix: right}
}
