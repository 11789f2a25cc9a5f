package tree

import "context"

// Op replaces the subtree at Path with Leaves. Any leaf stored at an
// ancestor of Path is cleared as well. Empty Leaves removes the subtree.
type Op struct {
	Path   string
	Leaves map[string][]byte
}

// Backend stores the flattened leaves of the tree.
type Backend interface {
	// Leaves returns every leaf at path or below it, keyed by absolute path.
	Leaves(ctx context.Context, path string) (map[string][]byte, error)
	// Apply runs ops in order as one batch.
	Apply(ctx context.Context, ops []Op) error
	Close() error
}

// Feed is implemented by backends that can observe writes made by other
// processes sharing the same storage.
type Feed interface {
	Changes(ctx context.Context) (<-chan []string, error)
}
