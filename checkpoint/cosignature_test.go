package checkpoint

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/mod/sumdb/note"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

func TestSignerRoundtrip(t *testing.T) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	s, err := NewCosignatureSigner("example.com", k)
	if err != nil {
		t.Fatal(err)
	}

	c := Checkpoint{Origin: "example.com", Revision: 123, Root: merkle.Sum([]byte("root"))}
	n, err := note.Sign(&note.Note{Text: c.String()}, s)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := note.Open(n, note.VerifierList(s.Verifier())); err != nil {
		t.Fatal(err)
	}
}

func TestSignerRejectsTamperedCheckpoint(t *testing.T) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewCosignatureSigner("example.com", k)
	if err != nil {
		t.Fatal(err)
	}

	c := Checkpoint{Origin: "example.com", Revision: 123, Root: merkle.Sum([]byte("root"))}
	n, err := note.Sign(&note.Note{Text: c.String()}, s)
	if err != nil {
		t.Fatal(err)
	}

	tampered := Checkpoint{Origin: "example.com", Revision: 124, Root: merkle.Sum([]byte("root"))}.String()
	if _, err := note.Open([]byte(tampered+string(n[len(c.String()):])), note.VerifierList(s.Verifier())); err == nil {
		t.Fatal("accepted a signature over a different checkpoint body")
	}
}

func TestNewCosignatureSignerRejectsInvalidName(t *testing.T) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewCosignatureSigner("has spaces", k); err == nil {
		t.Fatal("accepted a name containing whitespace")
	}
	if _, err := NewCosignatureSigner("has+plus", k); err == nil {
		t.Fatal("accepted a name containing a plus sign")
	}
}

func TestCosignatureVerifierStringIsStable(t *testing.T) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewCosignatureSigner("example.com", k)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Verifier().String(); got == "" {
		t.Fatal("Verifier().String() returned an empty vkey")
	}
}
