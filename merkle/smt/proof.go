package smt

import (
	"fmt"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// ProofKind distinguishes an inclusion proof (the key is present) from an
// exclusion proof (the key is absent, witnessed either by an empty slot or
// by a different leaf occupying the key's terminal position).
type ProofKind int

const (
	Inclusion ProofKind = iota
	Exclusion
)

func (k ProofKind) String() string {
	if k == Inclusion {
		return "inclusion"
	}
	return "exclusion"
}

// ProofStep is one level of a Proof: the sibling hash encountered and the
// bit depth (0 = MSB) of the key that the internal node branched on. The
// depth is the internal node's own height translated to a bit index
// (256-Height); it has to travel with the proof because path compression
// means consecutive steps can skip arbitrarily many levels, so a step's
// position in the Steps slice does not by itself say which key bit was
// tested. Verify recomputes the decision bit from proof.Key and Depth
// itself rather than trusting a verifier-supplied side, so a proof cannot
// be repurposed for a different key by relabelling it.
type ProofStep struct {
	Depth   uint32
	Sibling Hash
}

// ProofLeaf is the leaf encountered at a proof's terminal position.
type ProofLeaf struct {
	LeafKey   Hash
	ValueHash Hash
}

// Proof is an inclusion or exclusion proof against a specific root. Steps
// are ordered root-to-leaf; Leaf is nil when the path ended at an empty
// slot rather than at a materialised leaf.
type Proof struct {
	Root  Hash
	Key   Hash
	Kind  ProofKind
	Steps []ProofStep
	Leaf  *ProofLeaf
}

// GenerateProof walks the tree for key and returns the proof of its
// presence or absence against the tree's current root.
func (t *Tree) GenerateProof(key Hash) (*Proof, error) {
	proof := &Proof{Root: t.root, Key: key}

	if t.root == merkle.ZeroHash {
		proof.Kind = Exclusion
		return proof, nil
	}

	node, err := t.loadNode(t.root)
	if err != nil {
		return nil, err
	}

	lastDepth := -1
	for !node.IsLeaf() {
		depth := 256 - node.Height
		if int(depth) <= lastDepth || len(proof.Steps) >= 256 {
			// Descent depth must strictly increase at every internal node
			// (invariant §3-5: a child sits strictly below its parent) and
			// a proof can never exceed 256 siblings. Either failing mid-walk
			// means the store holds a height that doesn't agree with the
			// rest of the tree around it — not a missing node, which
			// ChildNotFoundError already covers, but one that is present
			// and decodes cleanly yet cannot yield a well-formed proof.
			return nil, fmt.Errorf("smt: %w: non-monotonic height at depth %d", ErrProofGeneration, depth)
		}
		lastDepth = int(depth)

		bit := bitAt(key, depth)
		childHash, siblingHash := node.RightChild(), node.LeftChild()
		if bit == 0 {
			childHash, siblingHash = node.LeftChild(), node.RightChild()
		}
		proof.Steps = append(proof.Steps, ProofStep{Depth: depth, Sibling: siblingHash})

		if childHash == merkle.ZeroHash {
			proof.Kind = Exclusion
			return proof, nil
		}

		node, err = t.loadNode(childHash)
		if err != nil {
			return nil, err
		}
	}

	proof.Leaf = &ProofLeaf{LeafKey: node.LeafKey(), ValueHash: node.ValueHash()}
	if node.LeafKey() == key {
		proof.Kind = Inclusion
	} else {
		proof.Kind = Exclusion
	}
	return proof, nil
}

// Verify reports whether proof is a well-formed inclusion or exclusion
// proof of proof.Key against proof.Root. Malformed proofs return false
// rather than an error.
//
// Every step's placement is derived from proof.Key's own bits at the
// step's recorded depth, never from a value the proof merely asserts; a
// proof generated for one key cannot be verified against a different key
// by swapping Key and Kind, because the reconstructed root would no longer
// match. Depths must strictly increase root-to-leaf, matching how descent
// only ever moves to a smaller height. For a terminal leaf, the leaf's own
// key must agree with proof.Key on every bit actually tested along the
// path; otherwise the proof's walk wasn't the one the terminal leaf would
// have produced, and it proves nothing about proof.Key.
func Verify(proof *Proof) bool {
	if proof == nil || len(proof.Steps) > 256 {
		return false
	}

	lastDepth := -1
	for _, step := range proof.Steps {
		if int(step.Depth) <= lastDepth || step.Depth > 255 {
			return false
		}
		lastDepth = int(step.Depth)
	}

	if proof.Leaf != nil {
		for _, step := range proof.Steps {
			if bitAt(proof.Leaf.LeafKey, step.Depth) != bitAt(proof.Key, step.Depth) {
				return false
			}
		}
	}

	acc := merkle.ZeroHash
	if proof.Leaf != nil {
		acc = merkle.LeafHash(proof.Leaf.LeafKey, proof.Leaf.ValueHash)
	}

	for i := len(proof.Steps) - 1; i >= 0; i-- {
		step := proof.Steps[i]
		if bitAt(proof.Key, step.Depth) == 0 {
			acc = merkle.NodeHash(acc, step.Sibling)
		} else {
			acc = merkle.NodeHash(step.Sibling, acc)
		}
	}

	if acc != proof.Root {
		return false
	}

	switch proof.Kind {
	case Inclusion:
		return proof.Leaf != nil && proof.Leaf.LeafKey == proof.Key
	case Exclusion:
		return proof.Leaf == nil || proof.Leaf.LeafKey != proof.Key
	default:
		return false
	}
}
