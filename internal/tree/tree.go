// Package tree is a hierarchical key-value store in the style of a hosted
// realtime database: values live at slash-separated paths, objects are
// expanded into leaves, and every write notifies watchers of related paths.
// There are no transactions across calls; each call is one backend batch.
package tree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/campus/internal/bus"
	"go.uber.org/zap"
)

// Change is the payload of a tree.changed event.
type Change struct {
	Paths  []string
	Origin string
	Remote bool
}

// Tree is the key-tree over a leaf Backend.
type Tree struct {
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger
	origin  string
	cancel  context.CancelFunc
}

// New creates a tree over backend, publishing changes on b.
func New(backend Backend, b *bus.Bus, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{
		backend: backend,
		bus:     b,
		logger:  logger,
		origin:  uuid.NewString(),
	}
}

// Origin identifies writes made through this tree instance.
func (t *Tree) Origin() string {
	return t.origin
}

// Bus returns the bus changes are published on.
func (t *Tree) Bus() *bus.Bus {
	return t.bus
}

// NewKey returns a unique child key. Keys sort in creation order.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Get reads the value stored at path.
func (t *Tree) Get(ctx context.Context, path string) (Snapshot, error) {
	path = Clean(path)
	leaves, err := t.backend.Leaves(ctx, path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %q: %w", path, err)
	}
	v, err := unflatten(path, leaves)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Value: v}, nil
}

// Set replaces the value at path. A nil value removes it.
func (t *Tree) Set(ctx context.Context, path string, value any) error {
	op, err := buildOp(Clean(path), value)
	if err != nil {
		return err
	}
	return t.apply(ctx, []Op{op})
}

// Update merges fields into the object at path. Keys may be relative
// multi-segment paths; each one replaces its own subtree only.
func (t *Tree) Update(ctx context.Context, path string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	base := Clean(path)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		if Clean(k) == "" {
			return fmt.Errorf("update %q: empty field key", base)
		}
		op, err := buildOp(Join(base, k), fields[k])
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	return t.apply(ctx, ops)
}

// Remove deletes the subtree at path.
func (t *Tree) Remove(ctx context.Context, path string) error {
	return t.apply(ctx, []Op{{Path: Clean(path)}})
}

// Push stores value under a freshly generated child key of path.
func (t *Tree) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewKey()
	if err := t.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Query filters and orders the direct children of path.
type Query struct {
	OrderByChild string
	StartAt      string
	EndAt        string // empty means unbounded
	Limit        int
}

// Query runs q over the children of path. Children whose ordering field is
// missing or not a string are skipped.
func (t *Tree) Query(ctx context.Context, path string, q Query) ([]Snapshot, error) {
	snap, err := t.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	type hit struct {
		sortKey string
		snap    Snapshot
	}
	var hits []hit
	for _, child := range snap.Children() {
		sortKey := child.Key()
		if q.OrderByChild != "" {
			v, ok := child.Child(q.OrderByChild).Value.(string)
			if !ok {
				continue
			}
			sortKey = v
		}
		if sortKey < q.StartAt {
			continue
		}
		if q.EndAt != "" && sortKey > q.EndAt {
			continue
		}
		hits = append(hits, hit{sortKey: sortKey, snap: child})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].sortKey != hits[j].sortKey {
			return hits[i].sortKey < hits[j].sortKey
		}
		return hits[i].snap.Key() < hits[j].snap.Key()
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]Snapshot, len(hits))
	for i, h := range hits {
		out[i] = h.snap
	}
	return out, nil
}

// Start forwards writes observed by the backend from other processes onto
// the bus. It is a no-op for backends without a change feed.
func (t *Tree) Start(ctx context.Context) error {
	feed, ok := t.backend.(Feed)
	if !ok {
		return nil
	}
	ctx, t.cancel = context.WithCancel(ctx)
	ch, err := feed.Changes(ctx)
	if err != nil {
		t.cancel()
		return fmt.Errorf("subscribe change feed: %w", err)
	}
	go func() {
		for {
			select {
			case paths, ok := <-ch:
				if !ok {
					return
				}
				t.bus.Emit(bus.KindTreeChanged, Change{Paths: paths, Remote: true})
			case <-ctx.Done():
				return
			}
		}
	}()
	t.logger.Info("tree change feed started")
	return nil
}

// Stop ends change feed forwarding.
func (t *Tree) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Close stops the feed and closes the backend.
func (t *Tree) Close() error {
	t.Stop()
	return t.backend.Close()
}

func (t *Tree) apply(ctx context.Context, ops []Op) error {
	if err := t.backend.Apply(ctx, ops); err != nil {
		paths := make([]string, len(ops))
		for i, op := range ops {
			paths[i] = op.Path
		}
		return fmt.Errorf("write %s: %w", strings.Join(paths, ","), err)
	}
	paths := make([]string, len(ops))
	for i, op := range ops {
		paths[i] = op.Path
	}
	t.bus.Emit(bus.KindTreeChanged, Change{Paths: paths, Origin: t.origin})
	return nil
}

func buildOp(path string, value any) (Op, error) {
	v, err := normalize(value)
	if err != nil {
		return Op{}, fmt.Errorf("write %q: %w", path, err)
	}
	leaves := map[string][]byte{}
	if err := flatten(path, v, leaves); err != nil {
		return Op{}, err
	}
	return Op{Path: path, Leaves: leaves}, nil
}
