// Package witness is an HTTP service that cosigns signed checkpoints from
// registered origins, refusing to sign any checkpoint whose revision does
// not strictly increase the last one it persisted for that origin.
package witness

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"golang.org/x/mod/sumdb/note"

	"github.com/fuellabs/fuel-merkle-go/checkpoint"
	"github.com/fuellabs/fuel-merkle-go/merkle"
)

// Witness cosigns checkpoints for a set of registered origins, each with
// its own verifier key(s) and its own last-seen revision.
type Witness struct {
	s   *checkpoint.CosignatureSigner
	mux *http.ServeMux
	log *slog.Logger

	dmMu sync.Mutex
	db   *sqlite.Conn

	// testingOnlyStallRequest is called after verifying and parsing a
	// request's checkpoint, but before persistTreeHead checks and commits
	// its revision. Tests use it to race two requests and exercise the
	// rollback-protection path.
	testingOnlyStallRequest func()
}

// OpenDB opens (creating if needed) the witness database at dbPath.
func OpenDB(dbPath string) (*sqlite.Conn, error) {
	db, err := sqlite.OpenConn(dbPath, 0)
	if err != nil {
		return nil, fmt.Errorf("opening database: %v", err)
	}

	return db, sqlitex.ExecScript(db, `
		PRAGMA strict_types = ON;
		PRAGMA foreign_keys = ON;
		CREATE TABLE IF NOT EXISTS tree (
			origin TEXT PRIMARY KEY,
			revision INTEGER NOT NULL,
			root TEXT NOT NULL -- base64-encoded
		);
		CREATE TABLE IF NOT EXISTS key (
			origin TEXT NOT NULL,
			key TEXT NOT NULL, -- note verifier key
			FOREIGN KEY(origin) REFERENCES tree(origin)
		);
	`)
}

// NewWitness opens dbPath and returns a Witness signing as name with key.
func NewWitness(dbPath, name string, key crypto.Signer, log *slog.Logger) (*Witness, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %v", err)
	}

	s, err := checkpoint.NewCosignatureSigner(name, key)
	if err != nil {
		return nil, fmt.Errorf("preparing signer: %v", err)
	}

	w := &Witness{
		db:  db,
		s:   s,
		log: log,
		mux: http.NewServeMux(),
	}
	w.mux.Handle("POST /add-checkpoint", http.HandlerFunc(w.serveAddCheckpoint))
	return w, nil
}

func (w *Witness) Close() error {
	w.dmMu.Lock()
	defer w.dmMu.Unlock()
	return w.db.Close()
}

func (w *Witness) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.mux.ServeHTTP(rw, r)
}

// VerifierKey returns the vkey encoding of this witness's signing key.
func (w *Witness) VerifierKey() string {
	return w.s.Verifier().String()
}

type conflictError struct {
	known uint64
}

func (*conflictError) Error() string { return "known revision is not lower than the submitted one" }

var errUnknownLog = errors.New("unknown log")
var errInvalidSignature = errors.New("invalid signature")
var errBadRequest = errors.New("invalid input")

// serveAddCheckpoint handles POST /add-checkpoint: the request body is a
// signed checkpoint note; the response is the witness's cosignature lines
// alone, to be appended to the caller's own note.
func (w *Witness) serveAddCheckpoint(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.log.DebugContext(r.Context(), "error reading request body", "error", err)
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	cosig, err := w.processAddCheckpointRequest(body)
	if err, ok := err.(*conflictError); ok {
		rw.Header().Set("Content-Type", "text/x.checkpoint.revision")
		rw.WriteHeader(http.StatusConflict)
		fmt.Fprintf(rw, "%d\n", err.known)
		return
	}
	switch err {
	case errUnknownLog, errInvalidSignature:
		http.Error(rw, err.Error(), http.StatusForbidden)
		return
	case errBadRequest:
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := rw.Write(cosig); err != nil {
		w.log.DebugContext(r.Context(), "error writing response", "error", err)
	}
}

func (w *Witness) processAddCheckpointRequest(body []byte) (cosig []byte, err error) {
	l := w.log.With("request", string(body))
	defer func() {
		if err != nil {
			l = l.With("error", err)
		}
		l.Debug("processed add-checkpoint request")
	}()

	origin, _, _ := bytes.Cut(body, []byte("\n"))
	l = l.With("origin", string(origin))
	verifiers, err := w.getKeys(string(origin))
	if err != nil {
		return nil, err
	}
	n, err := note.Open(body, verifiers)
	switch err.(type) {
	case *note.UnverifiedNoteError, *note.InvalidSignatureError:
		return nil, errInvalidSignature
	}
	if err != nil {
		return nil, err
	}
	c, err := checkpoint.ParseCheckpoint(n.Text)
	if err != nil {
		return nil, errBadRequest
	}
	l = l.With("revision", c.Revision)

	if w.testingOnlyStallRequest != nil {
		w.testingOnlyStallRequest()
	}
	if err := w.persistTreeHead(c.Origin, c.Revision, c.Root); err != nil {
		return nil, err
	}
	signed, err := note.Sign(&note.Note{Text: n.Text}, w.s)
	if err != nil {
		return nil, err
	}
	sigs, err := splitSignatures(signed)
	if err != nil {
		return nil, err
	}
	return sigs, err
}

func splitSignatures(n []byte) ([]byte, error) {
	var sigSplit = []byte("\n\n")
	split := bytes.LastIndex(n, sigSplit)
	if split < 0 {
		return nil, errors.New("invalid note")
	}
	_, sigs := n[:split+1], n[split+2:]
	if len(sigs) == 0 || sigs[len(sigs)-1] != '\n' {
		return nil, errors.New("invalid note")
	}
	return sigs, nil
}

// persistTreeHead atomically enforces that revision strictly exceeds the
// last one recorded for origin before overwriting it: the UPDATE's WHERE
// clause both checks and bumps the revision in a single statement, so two
// concurrent requests can never both believe they won the race.
func (w *Witness) persistTreeHead(origin string, revision uint64, root merkle.Hash) error {
	changes, err := w.dbExecWithChanges(`
			UPDATE tree SET revision = ?, root = ?
			WHERE origin = ? AND revision < ?`,
		nil, revision, base64Root(root), origin, revision)
	if err == nil && changes != 1 {
		known, _, err := w.getLog(origin)
		if err != nil {
			return err
		}
		return &conflictError{known}
	}
	return err
}

func (w *Witness) getLog(origin string) (revision uint64, root merkle.Hash, err error) {
	found := false
	err = w.dbExec("SELECT revision, root FROM tree WHERE origin = ?",
		func(stmt *sqlite.Stmt) error {
			found = true
			revision = uint64(stmt.GetInt64("revision"))
			root, err = parseBase64Root(stmt.GetText("root"))
			return err
		}, origin)
	if err == nil && !found {
		err = errUnknownLog
	}
	return
}

func (w *Witness) getKeys(origin string) (note.Verifiers, error) {
	var keys []string
	err := w.dbExec("SELECT key FROM key WHERE origin = ?",
		func(stmt *sqlite.Stmt) error {
			keys = append(keys, stmt.GetText("key"))
			return nil
		}, origin)
	if err == nil && keys == nil {
		err = errUnknownLog
	}
	if err != nil {
		return nil, err
	}
	var verifiers []note.Verifier
	for _, k := range keys {
		v, err := note.NewVerifier(k)
		if err != nil {
			w.log.Warn("invalid key in database", "key", k, "error", err)
			return nil, fmt.Errorf("invalid key %q: %v", k, err)
		}
		verifiers = append(verifiers, v)
	}
	return note.VerifierList(verifiers...), nil
}

func (w *Witness) dbExec(query string, resultFn func(stmt *sqlite.Stmt) error, args ...interface{}) error {
	w.dmMu.Lock()
	defer w.dmMu.Unlock()
	err := sqlitex.Exec(w.db, query, resultFn, args...)
	if err != nil {
		w.log.Error("database error", "error", err)
	}
	return err
}

func (w *Witness) dbExecWithChanges(query string, resultFn func(stmt *sqlite.Stmt) error, args ...interface{}) (int, error) {
	w.dmMu.Lock()
	defer w.dmMu.Unlock()
	err := sqlitex.Exec(w.db, query, resultFn, args...)
	if err != nil {
		w.log.Error("database error", "error", err)
		return 0, err
	}
	return w.db.Changes(), nil
}
