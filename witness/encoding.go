package witness

import (
	"encoding/base64"
	"fmt"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

func base64Root(root merkle.Hash) string {
	return base64.StdEncoding.EncodeToString(root.Bytes())
}

func parseBase64Root(s string) (merkle.Hash, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return merkle.ZeroHash, fmt.Errorf("witness: malformed stored root: %v", err)
	}
	if len(b) != len(merkle.Hash{}) {
		return merkle.ZeroHash, fmt.Errorf("witness: stored root is %d bytes, want %d", len(b), len(merkle.Hash{}))
	}
	return merkle.HashFromBytes(b), nil
}
