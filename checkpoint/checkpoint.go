// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found at
// https://go.googlesource.com/go/+/refs/heads/master/LICENSE.

// Package checkpoint formats and parses signed tree-head statements for a
// witnessed Merkle tree, following the text shape of c2sp.org/checkpoint,
// and provides an Ed25519 cosignature scheme for witnesses to countersign
// them, following c2sp.org/tlog-cosignature.
package checkpoint

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

const maxCheckpointSize = 1e6

// A Checkpoint is a signed statement about the latest state of one tree:
// its revision number and its root hash. It is formatted according to
// c2sp.org/checkpoint, adapted from a tlog.Tree{N, Hash} tree size/hash
// pair to a witnessed revision counter and an SMT/BMT root hash:
//
//	example.com/origin
//	923748
//	nND/nri/U0xuHUrYSy0HtMeal2vzD9V4k/BO79C+QeI=
//
// It can be followed by extra extension lines.
type Checkpoint struct {
	Origin   string
	Revision uint64
	Root     merkle.Hash

	// Extension is empty or a sequence of non-empty lines, each
	// terminated by a newline character.
	Extension string
}

// ParseCheckpoint parses the first three lines (and any extension lines)
// of a checkpoint body.
func ParseCheckpoint(text string) (Checkpoint, error) {
	if strings.Count(text, "\n") < 3 || len(text) > maxCheckpointSize {
		return Checkpoint{}, errors.New("malformed checkpoint")
	}
	if !strings.HasSuffix(text, "\n") {
		return Checkpoint{}, errors.New("malformed checkpoint")
	}

	lines := strings.SplitN(text, "\n", 4)

	rev, err := strconv.ParseUint(lines[1], 10, 64)
	if err != nil || lines[1] != strconv.FormatUint(rev, 10) {
		return Checkpoint{}, errors.New("malformed checkpoint")
	}

	h, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil || len(h) != len(merkle.Hash{}) {
		return Checkpoint{}, errors.New("malformed checkpoint")
	}

	rest := lines[3]
	for rest != "" {
		before, after, found := strings.Cut(rest, "\n")
		if before == "" || !found {
			return Checkpoint{}, errors.New("malformed checkpoint")
		}
		rest = after
	}

	return Checkpoint{
		Origin:    lines[0],
		Revision:  rev,
		Root:      merkle.HashFromBytes(h),
		Extension: lines[3],
	}, nil
}

// String returns the checkpoint body text, ready to be wrapped in a
// c2sp.org/signed-note envelope.
func (c Checkpoint) String() string {
	return fmt.Sprintf("%s\n%d\n%s\n%s",
		c.Origin,
		c.Revision,
		base64.StdEncoding.EncodeToString(c.Root.Bytes()),
		c.Extension,
	)
}
