package smt

import (
	"sort"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// Entry is a single (key, value) pair accepted by the batch constructors.
type Entry struct {
	Key   Hash
	Value []byte
}

// sortEntries sorts pairs by key ascending, MSB-first byte order — the
// natural lexicographic order of a fixed-size byte array — and keeps only
// the last entry for any key that appears more than once, matching the
// update semantics of sequential Insert (the later value wins).
func sortEntries(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return string(sorted[i].Key[:]) < string(sorted[j].Key[:])
	})

	deduped := sorted[:0]
	for i, e := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Key == e.Key {
			continue
		}
		deduped = append(deduped, e)
	}
	return deduped
}

// stackFrame is one entry of the merge-height stack: a subtree already
// written to storage, the key of one of its leaves (any leaf works, since
// every leaf beneath a frame shares the same bits down to commonDepth), and
// commonDepth, the bit depth (0 = MSB) down to which every leaf under this
// frame is known to agree. A freshly pushed leaf has no sibling yet, so its
// commonDepth is 256 (the full key) — nothing constrains how deep a future
// merge with it may reach.
type stackFrame struct {
	hash        Hash
	key         Hash
	commonDepth uint32
}

// foldSorted builds a tree from pre-sorted, de-duplicated entries using the
// O(N) merge-height stack algorithm of spec.md §4.6: before each new leaf
// is pushed, the top two frames of the stack are merged for as long as
// they diverge from each other deeper than the new leaf diverges from the
// top frame (no later key can fall between them); once every entry is
// pushed, the remaining stack is collapsed pairwise into the root. Every
// write here is an Insert of a brand-new content-addressed node — nothing
// is ever read back — so this works unmodified against a read-only sink
// like discardStorage or collectingStorage, unlike folding through
// sequential Insert.
func foldSorted(storage Storage, entries []Entry) (Hash, error) {
	if len(entries) == 0 {
		return merkle.ZeroHash, nil
	}

	write := func(n *Node) (Hash, error) {
		h := n.Hash()
		p := EncodeNode(n)
		if err := storage.Insert(h, &p); err != nil {
			return merkle.ZeroHash, wrapStorageErr(err)
		}
		return h, nil
	}

	merge := func(left, right stackFrame, depth uint32) (stackFrame, error) {
		h, err := write(newInternalNode(256-depth, left.hash, right.hash))
		if err != nil {
			return stackFrame{}, err
		}
		return stackFrame{hash: h, key: left.key, commonDepth: depth}, nil
	}

	var stack []stackFrame
	for _, e := range entries {
		leafHash, err := write(newLeafNode(e.Key, merkle.Sum(e.Value)))
		if err != nil {
			return merkle.ZeroHash, err
		}
		cur := stackFrame{hash: leafHash, key: e.Key, commonDepth: 256}

		for len(stack) > 1 {
			top, second := stack[len(stack)-1], stack[len(stack)-2]
			d := firstDifferingBit(second.key, top.key)
			if d < firstDifferingBit(top.key, cur.key) {
				break
			}
			stack = stack[:len(stack)-2]
			merged, err := merge(second, top, d)
			if err != nil {
				return merkle.ZeroHash, err
			}
			stack = append(stack, merged)
		}
		stack = append(stack, cur)
	}

	for len(stack) > 1 {
		top := stack[len(stack)-1]
		second := stack[len(stack)-2]
		d := firstDifferingBit(second.key, top.key)
		merged, err := merge(second, top, d)
		if err != nil {
			return merkle.ZeroHash, err
		}
		stack = append(stack[:len(stack)-2], merged)
	}

	return stack[0].hash, nil
}

// FromSet builds a tree from a set of key-value pairs over storage. It is
// equivalent to creating an empty tree and calling Insert for each pair,
// but runs in O(N) rather than O(N log N) by folding the sorted set through
// the merge-height stack directly.
func FromSet(storage Storage, entries []Entry) (*Tree, error) {
	root, err := foldSorted(storage, sortEntries(entries))
	if err != nil {
		return nil, err
	}
	return &Tree{storage: storage, root: root}, nil
}

// RootFromSet computes the root that FromSet would produce, without
// retaining any writes. It is cheaper than FromSet followed by discarding
// the tree when only the root is needed.
func RootFromSet(entries []Entry) Hash {
	root, err := foldSorted(discardStorage{}, sortEntries(entries))
	if err != nil {
		// discardStorage's operations are infallible by construction.
		panic("smt: RootFromSet: unreachable storage error: " + err.Error())
	}
	return root
}

// NodesFromSet computes the root FromSet would produce, plus every
// (hash, primitive) pair written along the way, in emission order, without
// needing a readable storage backend. It is useful for deferring
// potentially expensive storage writes (e.g. database inserts) to a later,
// batched step.
func NodesFromSet(entries []Entry) (Hash, []NodeRecord) {
	sink := &collectingStorage{}
	root, err := foldSorted(sink, sortEntries(entries))
	if err != nil {
		// collectingStorage's operations are infallible by construction.
		panic("smt: NodesFromSet: unreachable storage error: " + err.Error())
	}
	return root, sink.writes
}
