package bmt

import (
	"testing"

	"golang.org/x/mod/sumdb/tlog"
)

func TestTilePathRoundTrip(t *testing.T) {
	tile := tlog.Tile{H: TileHeight, L: 2, N: 5, W: TileWidth}
	path := TilePath(tile)
	got, err := ParseTilePath(path)
	if err != nil {
		t.Fatalf("ParseTilePath(%q): %v", path, err)
	}
	if got != tile {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, tile)
	}
}

func TestTilePathPanicsOnWrongHeight(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("TilePath did not panic for a non-standard tile height")
		}
	}()
	TilePath(tlog.Tile{H: 4, L: 0, N: 0, W: 1 << 4})
}

func TestParseTilePathRejectsMalformedPath(t *testing.T) {
	if _, err := ParseTilePath("not/a/tile/path"); err == nil {
		t.Fatal("ParseTilePath accepted a malformed path")
	}
}

func TestNewTilesCoversGrowthRange(t *testing.T) {
	tiles := NewTiles(0, int64(TileWidth)+1)
	if len(tiles) == 0 {
		t.Fatal("NewTiles returned no tiles for non-trivial growth")
	}
	for _, tile := range tiles {
		if tile.H != TileHeight {
			t.Fatalf("tile height = %d, want %d", tile.H, TileHeight)
		}
	}
}
