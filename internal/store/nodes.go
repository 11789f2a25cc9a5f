package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/matheus3301/campus/internal/tree"
)

// Leaves returns every tree leaf at path or below it.
func (db *DB) Leaves(ctx context.Context, path string) (map[string][]byte, error) {
	var (
		query string
		args  []any
	)
	if path == "" {
		query = `SELECT path, value FROM nodes`
	} else {
		lo, hi := tree.SubtreeBounds(path)
		query = `SELECT path, value FROM nodes WHERE path = ? OR (path >= ? AND path < ?)`
		args = []any{path, lo, hi}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[string][]byte{}
	for rows.Next() {
		var (
			p string
			v []byte
		)
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		out[p] = v
	}
	return out, rows.Err()
}

// Apply runs the tree ops in a single transaction.
func (db *DB) Apply(ctx context.Context, ops []tree.Op) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if err := clearNodes(ctx, tx, op.Path); err != nil {
			return err
		}
		for p, v := range op.Leaves {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO nodes (path, value) VALUES (?, ?)
				 ON CONFLICT(path) DO UPDATE SET value = excluded.value`, p, v); err != nil {
				return fmt.Errorf("insert %q: %w", p, err)
			}
		}
	}
	return tx.Commit()
}

// clearNodes deletes the subtree at path and any leaf on its ancestors.
func clearNodes(ctx context.Context, tx *sql.Tx, path string) error {
	if path == "" {
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes`)
		return err
	}
	lo, hi := tree.SubtreeBounds(path)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE path = ? OR (path >= ? AND path < ?)`, path, lo, hi); err != nil {
		return fmt.Errorf("clear %q: %w", path, err)
	}

	ancestors := tree.Ancestors(path)
	args := make([]any, len(ancestors))
	for i, a := range ancestors {
		args[i] = a
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE path IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("clear ancestors of %q: %w", path, err)
	}
	return nil
}

// TreeBackend exposes the nodes table as a tree.Backend whose Close leaves
// the database open; the caller that opened the DB closes it.
func (db *DB) TreeBackend() tree.Backend {
	return sharedBackend{db}
}

type sharedBackend struct {
	*DB
}

func (sharedBackend) Close() error { return nil }
