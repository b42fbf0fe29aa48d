package smt

import (
	"math/bits"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// Tree is a sparse Merkle tree: a single-threaded mutator over a pluggable
// Storage backend. There is no internal synchronization; callers sharing a
// Tree across goroutines must provide their own.
//
// Descent and ascent are iterative over an explicit stack (pathEntry
// slices), never recursive, so memory is bounded at 256 frames regardless
// of tree shape.
type Tree struct {
	storage Storage
	root    Hash
}

// pathEntry is one internal node visited on the way to a leaf, along with
// the bit of the target key that sent the walk through it.
type pathEntry struct {
	hash Hash
	node *Node
	bit  int
}

// NewTree returns an empty tree (root = ZeroHash) over storage.
func NewTree(storage Storage) *Tree {
	return &Tree{storage: storage, root: merkle.ZeroHash}
}

// Load returns a Tree whose root is already present in storage. It fails if
// root is non-zero and absent from storage.
func Load(storage Storage, root Hash) (*Tree, error) {
	if root == merkle.ZeroHash {
		return NewTree(storage), nil
	}
	ok, err := storage.Contains(root)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	if !ok {
		return nil, &LoadFailedError{Root: root}
	}
	return &Tree{storage: storage, root: root}, nil
}

// Root returns the tree's current root hash.
func (t *Tree) Root() Hash { return t.root }

// bitAt returns bit i of k (0 = MSB) as 0 or 1.
func bitAt(k Hash, i uint32) int {
	byteIndex := i / 8
	bitIndex := 7 - (i % 8)
	return int((k[byteIndex] >> bitIndex) & 1)
}

// firstDifferingBit returns the index (0 = MSB) of the first bit at which a
// and b differ. Callers must not invoke it with a == b.
func firstDifferingBit(a, b Hash) uint32 {
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return uint32(i*8) + uint32(bits.LeadingZeros8(a[i]^b[i]))
		}
	}
	return uint32(len(a) * 8)
}

func (t *Tree) loadNode(h Hash) (*Node, error) {
	prim, err := t.storage.Get(h)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	if prim == nil {
		return nil, &ChildNotFoundError{Hash: h}
	}
	return DecodeNode(*prim)
}

func (t *Tree) storeNode(n *Node) (Hash, error) {
	h := n.Hash()
	p := EncodeNode(n)
	if err := t.storage.Insert(h, &p); err != nil {
		return merkle.ZeroHash, wrapStorageErr(err)
	}
	return h, nil
}

// rebuild folds newChild into each ancestor in path, from the innermost
// (last visited) outward, rewriting each internal node's child hash on its
// recorded side, storing the new node, and removing the one it replaces.
// The final folded hash becomes the tree's root.
func (t *Tree) rebuild(path []pathEntry, newChild Hash) error {
	for i := len(path) - 1; i >= 0; i-- {
		e := path[i]
		var left, right Hash
		if e.bit == 0 {
			left, right = newChild, e.node.RightChild()
		} else {
			left, right = e.node.LeftChild(), newChild
		}
		newHash, err := t.storeNode(newInternalNode(e.node.Height, left, right))
		if err != nil {
			return err
		}
		if newHash != e.hash {
			if err := t.storage.Remove(e.hash); err != nil {
				return wrapStorageErr(err)
			}
		}
		newChild = newHash
	}
	t.root = newChild
	return nil
}

// spliceLeaves creates the single new internal node that replaces a leaf
// position when a second, differently-keyed leaf needs to live alongside
// it: no intermediate placeholder levels are materialised between the
// splice point and its parent, per the tree's path-compression invariant.
func (t *Tree) spliceLeaves(existingKey, existingHash, newKey, newHash Hash, d uint32) (Hash, error) {
	height := 256 - d
	var left, right Hash
	if bitAt(newKey, d) == 0 {
		left, right = newHash, existingHash
	} else {
		left, right = existingHash, newHash
	}
	return t.storeNode(newInternalNode(height, left, right))
}

// Insert writes value under key, replacing any existing value for key, and
// updates the tree's root. Storage failures are propagated; on error the
// tree's cached root is left unchanged.
func (t *Tree) Insert(key Hash, value []byte) error {
	vh := merkle.Sum(value)
	leafHash, err := t.storeNode(newLeafNode(key, vh))
	if err != nil {
		return err
	}

	if t.root == merkle.ZeroHash {
		t.root = leafHash
		return nil
	}

	rootNode, err := t.loadNode(t.root)
	if err != nil {
		return err
	}

	if rootNode.IsLeaf() {
		if rootNode.LeafKey() == key {
			if t.root != leafHash {
				if err := t.storage.Remove(t.root); err != nil {
					return wrapStorageErr(err)
				}
			}
			t.root = leafHash
			return nil
		}
		d := firstDifferingBit(rootNode.LeafKey(), key)
		newRoot, err := t.spliceLeaves(rootNode.LeafKey(), t.root, key, leafHash, d)
		if err != nil {
			return err
		}
		t.root = newRoot
		return nil
	}

	var path []pathEntry
	current, currentNode := t.root, rootNode
	for {
		bit := bitAt(key, 256-currentNode.Height)
		childHash := currentNode.RightChild()
		if bit == 0 {
			childHash = currentNode.LeftChild()
		}
		path = append(path, pathEntry{hash: current, node: currentNode, bit: bit})

		if childHash == merkle.ZeroHash {
			return t.rebuild(path, leafHash)
		}

		childNode, err := t.loadNode(childHash)
		if err != nil {
			return err
		}

		if childNode.IsLeaf() {
			if childNode.LeafKey() == key {
				if childHash != leafHash {
					if err := t.storage.Remove(childHash); err != nil {
						return wrapStorageErr(err)
					}
				}
				return t.rebuild(path, leafHash)
			}
			d := firstDifferingBit(childNode.LeafKey(), key)
			// The new key may leave the visited subtrees above this leaf:
			// splice above every visited node that branches deeper than d.
			sub, cut := childHash, len(path)
			for cut > 0 && 256-path[cut-1].node.Height > d {
				cut--
				sub = path[cut].hash
			}
			newHash, err := t.spliceLeaves(childNode.LeafKey(), sub, key, leafHash, d)
			if err != nil {
				return err
			}
			return t.rebuild(path[:cut], newHash)
		}

		current, currentNode = childHash, childNode
	}
}

// Delete removes key from the tree, if present, and updates the tree's
// root. Deleting an absent key is a no-op. The internal node that directly
// parented the removed leaf is collapsed away (its sibling subtree is
// promoted to its ancestor), preserving the invariant that no stored
// internal node has two empty children.
func (t *Tree) Delete(key Hash) error {
	if t.root == merkle.ZeroHash {
		return nil
	}

	rootNode, err := t.loadNode(t.root)
	if err != nil {
		return err
	}

	if rootNode.IsLeaf() {
		if rootNode.LeafKey() != key {
			return nil
		}
		if err := t.storage.Remove(t.root); err != nil {
			return wrapStorageErr(err)
		}
		t.root = merkle.ZeroHash
		return nil
	}

	var path []pathEntry
	current, currentNode := t.root, rootNode
	for {
		bit := bitAt(key, 256-currentNode.Height)
		childHash := currentNode.RightChild()
		if bit == 0 {
			childHash = currentNode.LeftChild()
		}

		if childHash == merkle.ZeroHash {
			return nil
		}

		childNode, err := t.loadNode(childHash)
		if err != nil {
			return err
		}

		if childNode.IsLeaf() {
			if childNode.LeafKey() != key {
				return nil
			}
			if err := t.storage.Remove(childHash); err != nil {
				return wrapStorageErr(err)
			}
			if err := t.storage.Remove(current); err != nil {
				return wrapStorageErr(err)
			}
			sibling := currentNode.LeftChild()
			if bit == 0 {
				sibling = currentNode.RightChild()
			}
			return t.rebuild(path, sibling)
		}

		path = append(path, pathEntry{hash: current, node: currentNode, bit: bit})
		current, currentNode = childHash, childNode
	}
}

// Lookup returns the value hash committed for key, or ok == false if key is
// absent.
func (t *Tree) Lookup(key Hash) (valueHash Hash, ok bool, err error) {
	if t.root == merkle.ZeroHash {
		return merkle.ZeroHash, false, nil
	}

	current := t.root
	for {
		node, err := t.loadNode(current)
		if err != nil {
			return merkle.ZeroHash, false, err
		}
		if node.IsLeaf() {
			if node.LeafKey() == key {
				return node.ValueHash(), true, nil
			}
			return merkle.ZeroHash, false, nil
		}
		bit := bitAt(key, 256-node.Height)
		child := node.RightChild()
		if bit == 0 {
			child = node.LeftChild()
		}
		if child == merkle.ZeroHash {
			return merkle.ZeroHash, false, nil
		}
		current = child
	}
}
