package checkpoint

import (
	"testing"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

func TestCheckpointRoundTrip(t *testing.T) {
	c := Checkpoint{
		Origin:   "example.com/origin",
		Revision: 923748,
		Root:     merkle.Sum([]byte("root")),
	}
	text := c.String()

	got, err := ParseCheckpoint(text)
	if err != nil {
		t.Fatalf("ParseCheckpoint: %v", err)
	}
	if got.Origin != c.Origin || got.Revision != c.Revision || got.Root != c.Root {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestCheckpointRoundTripWithExtension(t *testing.T) {
	c := Checkpoint{
		Origin:    "example.com/origin",
		Revision:  1,
		Root:      merkle.Sum([]byte("root")),
		Extension: "extra line one\nextra line two\n",
	}
	text := c.String()

	got, err := ParseCheckpoint(text)
	if err != nil {
		t.Fatalf("ParseCheckpoint: %v", err)
	}
	if got.Extension != c.Extension {
		t.Fatalf("Extension = %q, want %q", got.Extension, c.Extension)
	}
}

func TestParseCheckpointRejectsMissingTrailingNewline(t *testing.T) {
	if _, err := ParseCheckpoint("example.com\n1\nAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="); err == nil {
		t.Fatal("accepted a checkpoint without a trailing newline")
	}
}

func TestParseCheckpointRejectsMalformedRevision(t *testing.T) {
	if _, err := ParseCheckpoint("example.com\nnot-a-number\nAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\n\n"); err == nil {
		t.Fatal("accepted a non-numeric revision line")
	}
}

func TestParseCheckpointRejectsLeadingZeroRevision(t *testing.T) {
	if _, err := ParseCheckpoint("example.com\n007\nAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\n\n"); err == nil {
		t.Fatal("accepted a revision with a non-canonical leading zero")
	}
}

func TestParseCheckpointRejectsBadRootLength(t *testing.T) {
	if _, err := ParseCheckpoint("example.com\n1\nAAAA\n\n"); err == nil {
		t.Fatal("accepted a root hash of the wrong length")
	}
}

func TestParseCheckpointRejectsEmptyExtensionLine(t *testing.T) {
	text := "example.com\n1\nAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\n\nsecond\n"
	if _, err := ParseCheckpoint(text); err == nil {
		t.Fatal("accepted an extension with a blank line")
	}
}
