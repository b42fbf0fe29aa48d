// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found at
// https://go.googlesource.com/go/+/refs/heads/master/LICENSE.

package bmt

import (
	"fmt"
	"strings"

	"golang.org/x/mod/sumdb/tlog"
)

// TileHeight is the fixed height of every tile this package serves, per
// c2sp.org/tlog-tiles. Ported unchanged from torchwood's tile.go.
const TileHeight = 8

// TileWidth is the number of leaf hashes covered by a full level-0 tile.
const TileWidth = 1 << TileHeight

// TilePath returns a tile coordinate path describing t, according to
// c2sp.org/tlog-tiles. t.Height must equal TileHeight.
//
// Adapted from torchwood's TilePath in tile.go; the coordinate math comes
// from tlog.Tile unchanged, since it addresses positions in the tree and
// carries no hash-algorithm dependence of its own.
func TilePath(t tlog.Tile) string {
	if t.H != TileHeight {
		panic(fmt.Sprintf("bmt: unexpected tile height %d, want %d", t.H, TileHeight))
	}
	if t.L == -1 {
		return "tile/entries/" + strings.TrimPrefix(t.Path(), "tile/8/data/")
	}
	return "tile/" + strings.TrimPrefix(t.Path(), "tile/8/")
}

// ParseTilePath parses a tile coordinate path according to
// c2sp.org/tlog-tiles, the inverse of TilePath.
func ParseTilePath(path string) (tlog.Tile, error) {
	if rest, ok := strings.CutPrefix(path, "tile/entries/"); ok {
		t, err := tlog.ParseTilePath("tile/8/data/" + rest)
		if err != nil {
			return tlog.Tile{}, fmt.Errorf("bmt: malformed tile path %q", path)
		}
		return t, nil
	}
	if rest, ok := strings.CutPrefix(path, "tile/"); ok {
		t, err := tlog.ParseTilePath("tile/8/" + rest)
		if err != nil {
			return tlog.Tile{}, fmt.Errorf("bmt: malformed tile path %q", path)
		}
		return t, nil
	}
	return tlog.Tile{}, fmt.Errorf("bmt: malformed tile path %q", path)
}

// NewTiles returns the tile set needed to describe the hashes newly stored
// when the tree grows from oldSize to newSize leaves, per tlog.NewTiles.
func NewTiles(oldSize, newSize int64) []tlog.Tile {
	return tlog.NewTiles(TileHeight, oldSize, newSize)
}
