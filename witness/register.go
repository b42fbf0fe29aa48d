package witness

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"golang.org/x/mod/sumdb/note"

	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// RegisterLog adds an origin to the witness database, starting at
// revision 0 with the empty-tree root, and trusts key to sign checkpoints
// for it. Call it once per origin before the witness will cosign anything
// from it.
func RegisterLog(db *sqlite.Conn, origin string, key ed25519.PublicKey) error {
	if err := sqlitex.Exec(db, "INSERT INTO tree (origin, revision, root) VALUES (?, 0, ?)",
		nil, origin, base64Root(merkle.ZeroHash)); err != nil {
		return fmt.Errorf("witness: registering log: %v", err)
	}
	k, err := note.NewEd25519VerifierKey(origin, key)
	if err != nil {
		return fmt.Errorf("witness: encoding verifier key: %v", err)
	}
	if err := sqlitex.Exec(db, "INSERT INTO key (origin, key) VALUES (?, ?)", nil, origin, k); err != nil {
		return fmt.Errorf("witness: registering key: %v", err)
	}
	return nil
}

// ListLogs writes a JSON-lines summary of every registered origin, its
// last-known revision and root, and its trusted verifier keys to w.
func ListLogs(db *sqlite.Conn, w io.Writer) error {
	return sqlitex.Exec(db, `
	SELECT json_object(
		'origin', tree.origin,
		'revision', tree.revision,
		'root', tree.root,
		'keys', json_group_array(key.key))
	FROM
		tree
		LEFT JOIN key on tree.origin = key.origin
	GROUP BY
		tree.origin
	ORDER BY
		tree.origin
	`, func(stmt *sqlite.Stmt) error {
		_, err := fmt.Fprintf(w, "%s\n", stmt.ColumnText(0))
		return err
	})
}
