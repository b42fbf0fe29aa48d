// Package smtsqlite is a durable NodesTable backend for the sparse Merkle
// tree, storing each node under its hash in a SQLite table.
package smtsqlite

import (
	"context"
	"embed"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fuellabs/fuel-merkle-go/merkle/smt"
)

//go:embed *.sql
var sqlFiles embed.FS

// Storage is a smt.Storage backed by a pooled SQLite connection.
type Storage struct {
	pool *sqlitex.Pool
}

// Open creates (if needed) the nodes table at dbPath and returns a ready
// Storage.
func Open(ctx context.Context, dbPath string) (*Storage, error) {
	pool, err := sqlitex.NewPool(dbPath, sqlitex.PoolOptions{
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecScript(conn, `PRAGMA foreign_keys = ON;`)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("smtsqlite: open pool: %w", err)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("smtsqlite: take conn: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransientFS(conn, sqlFiles, "create.sql", nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("smtsqlite: create table: %w", err)
	}

	return &Storage{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

var _ smt.Storage = (*Storage)(nil)

func (s *Storage) Get(key smt.Hash) (*smt.Primitive, error) {
	ctx := context.Background()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("smtsqlite: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	var prim *smt.Primitive
	if err := sqlitex.ExecuteTransientFS(conn, sqlFiles, "get.sql", &sqlitex.ExecOptions{
		Args: []any{key.Bytes()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var p smt.Primitive
			n := stmt.ColumnBytes(0, p[:])
			if n != smt.PrimitiveSize {
				return fmt.Errorf("smtsqlite: stored primitive is %d bytes, want %d", n, smt.PrimitiveSize)
			}
			prim = &p
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("smtsqlite: get: %w", err)
	}
	return prim, nil
}

func (s *Storage) Contains(key smt.Hash) (bool, error) {
	ctx := context.Background()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("smtsqlite: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	found := false
	if err := sqlitex.ExecuteTransientFS(conn, sqlFiles, "contains.sql", &sqlitex.ExecOptions{
		Args: []any{key.Bytes()},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	}); err != nil {
		return false, fmt.Errorf("smtsqlite: contains: %w", err)
	}
	return found, nil
}

func (s *Storage) Insert(key smt.Hash, value *smt.Primitive) error {
	ctx := context.Background()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("smtsqlite: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteTransientFS(conn, sqlFiles, "insert.sql", &sqlitex.ExecOptions{
		Args: []any{key.Bytes(), value[:]},
	}); err != nil {
		return fmt.Errorf("smtsqlite: insert: %w", err)
	}
	return nil
}

func (s *Storage) Replace(key smt.Hash, value *smt.Primitive) (*smt.Primitive, error) {
	prev, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if err := s.Insert(key, value); err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *Storage) Remove(key smt.Hash) error {
	ctx := context.Background()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("smtsqlite: take conn: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteTransientFS(conn, sqlFiles, "delete.sql", &sqlitex.ExecOptions{
		Args: []any{key.Bytes()},
	}); err != nil {
		return fmt.Errorf("smtsqlite: delete: %w", err)
	}
	return nil
}

func (s *Storage) Take(key smt.Hash) (*smt.Primitive, error) {
	prev, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	if err := s.Remove(key); err != nil {
		return nil, err
	}
	return prev, nil
}
