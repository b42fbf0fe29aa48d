package smt

import (
	"errors"
	"fmt"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// ErrInvalidPrimitive is returned when a stored primitive decodes to an
// impossible shape (a non-zero reserved byte, or a height above 256).
var ErrInvalidPrimitive = errors.New("smt: invalid primitive")

// ErrProofGeneration is returned when a key's path reaches a state that
// cannot be turned into a well-formed proof (normally a symptom of a
// corrupted or concurrently-mutated store).
var ErrProofGeneration = errors.New("smt: proof generation failed")

// ChildNotFoundError reports that traversal referenced a node absent from
// storage: the backing store is missing data the tree's structure depends
// on.
type ChildNotFoundError struct {
	Hash merkle.Hash
}

func (e *ChildNotFoundError) Error() string {
	return fmt.Sprintf("smt: child node %s not found in storage", e.Hash)
}

// LoadFailedError reports that Load could not find the requested root.
type LoadFailedError struct {
	Root merkle.Hash
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("smt: cannot load tree at root %s", e.Root)
}

// wrapStorageErr gives a storage backend's error a consistent, greppable
// prefix without obscuring the underlying error for errors.Is/As.
func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("smt: storage: %w", err)
}
