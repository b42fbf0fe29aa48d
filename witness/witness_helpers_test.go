package witness

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// checkpointBody formats a checkpoint body the way the checkpoint package
// does, without importing it, to keep the witness package's tests from
// depending on checkpoint.Checkpoint's exact field layout.
func checkpointBody(origin string, revision uint64, root merkle.Hash) string {
	return fmt.Sprintf("%s\n%d\n%s\n", origin, revision, base64.StdEncoding.EncodeToString(root.Bytes()))
}

// mustEncodeSkey builds a note.Signer skey string for an existing Ed25519
// private key bound to name, in the same "PRIVATE+KEY+..." shape
// note.GenerateKey produces for a freshly random key.
func mustEncodeSkey(t *testing.T, name string, priv ed25519.PrivateKey) string {
	t.Helper()
	pub := priv.Public().(ed25519.PublicKey)
	pubkey := append([]byte{1}, pub...)
	privkey := append([]byte{1}, priv.Seed()...)
	return fmt.Sprintf("PRIVATE+KEY+%s+%08x+%s", name, keyHashForTest(name, pubkey),
		base64.StdEncoding.EncodeToString(privkey))
}

// keyHashForTest replicates note's unexported keyHash: the first four bytes
// of SHA-256(name || "\n" || key), big-endian.
func keyHashForTest(name string, key []byte) uint32 {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte("\n"))
	h.Write(key)
	return binary.BigEndian.Uint32(h.Sum(nil))
}
