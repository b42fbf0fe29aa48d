package smt

import (
	"encoding/binary"
	"fmt"
)

// PrimitiveSize is the fixed width of a serialized node, in bytes.
const PrimitiveSize = 69

// Primitive is the fixed-width wire layout used as the storage value for
// every node:
//
//	offset  len  field
//	 0      4    height (u32, big-endian) — 0 = leaf
//	 4      32   prefix   (leaf: leaf_key     / internal: left_child_hash)
//	 36     32   suffix   (leaf: value_hash   / internal: right_child_hash)
//	 68     1    reserved (must be 0)
//
// Decoding is total: any 69-byte value round-trips through DecodeNode,
// except that a non-zero reserved byte or an out-of-range height are
// reported as ErrInvalidPrimitive.
type Primitive [PrimitiveSize]byte

// EncodeNode serializes n to its fixed-width primitive form.
func EncodeNode(n *Node) Primitive {
	var p Primitive
	binary.BigEndian.PutUint32(p[0:4], n.Height)
	copy(p[4:36], n.Prefix[:])
	copy(p[36:68], n.Suffix[:])
	return p
}

// DecodeNode parses a stored primitive back into a Node.
func DecodeNode(p Primitive) (*Node, error) {
	if p[68] != 0 {
		return nil, fmt.Errorf("smt: %w: reserved byte is %d, want 0", ErrInvalidPrimitive, p[68])
	}
	height := binary.BigEndian.Uint32(p[0:4])
	if height > 256 {
		return nil, fmt.Errorf("smt: %w: height %d exceeds 256", ErrInvalidPrimitive, height)
	}
	n := &Node{Height: height}
	copy(n.Prefix[:], p[4:36])
	copy(n.Suffix[:], p[36:68])
	return n, nil
}
