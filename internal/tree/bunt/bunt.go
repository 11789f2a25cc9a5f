// Package bunt stores tree leaves in a BuntDB file or in memory.
package bunt

import (
	"context"
	"errors"

	"github.com/matheus3301/campus/internal/tree"
	"github.com/tidwall/buntdb"
)

// Memory is the path that keeps the database in memory only.
const Memory = ":memory:"

// Backend is a tree.Backend on BuntDB. Keys are leaf paths, values are the
// JSON-encoded leaf values.
type Backend struct {
	db *buntdb.DB
}

// Open opens (or creates) the BuntDB file at path.
func Open(path string) (*Backend, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Leaves(_ context.Context, path string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := b.db.View(func(tx *buntdb.Tx) error {
		if path == "" {
			return tx.Ascend("", func(key, val string) bool {
				out[key] = []byte(val)
				return true
			})
		}
		if val, err := tx.Get(path); err == nil {
			out[path] = []byte(val)
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		lo, hi := tree.SubtreeBounds(path)
		return tx.AscendRange("", lo, hi, func(key, val string) bool {
			out[key] = []byte(val)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) Apply(_ context.Context, ops []tree.Op) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		for _, op := range ops {
			if err := clearPath(tx, op.Path); err != nil {
				return err
			}
			for k, v := range op.Leaves {
				if _, _, err := tx.Set(k, string(v), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// clearPath removes the subtree at path and any leaf stored at its ancestors.
func clearPath(tx *buntdb.Tx, path string) error {
	doomed := append(tree.Ancestors(path), path)
	if path == "" {
		if err := tx.Ascend("", func(key, _ string) bool {
			doomed = append(doomed, key)
			return true
		}); err != nil {
			return err
		}
	} else {
		lo, hi := tree.SubtreeBounds(path)
		if err := tx.AscendRange("", lo, hi, func(key, _ string) bool {
			doomed = append(doomed, key)
			return true
		}); err != nil {
			return err
		}
	}
	for _, k := range doomed {
		if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
	}
	return nil
}
