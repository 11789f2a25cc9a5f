package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/matheus3301/campus/internal/tree"
)

// Manager owns a set of tree watches keyed by path. Sync opens the
// missing ones and closes the rest, so watches never outlive their use.
type Manager struct {
	tree *tree.Tree
	mu   sync.Mutex
	subs map[string]*tree.Subscription
}

// NewManager creates an empty manager over t.
func NewManager(t *tree.Tree) *Manager {
	return &Manager{tree: t, subs: map[string]*tree.Subscription{}}
}

// Sync makes the open watches exactly the keys of want.
func (m *Manager) Sync(ctx context.Context, want map[string]func(tree.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, sub := range m.subs {
		if _, ok := want[path]; !ok {
			sub.Close()
			delete(m.subs, path)
		}
	}
	for path, fn := range want {
		if _, ok := m.subs[path]; !ok {
			m.subs[path] = m.tree.Watch(ctx, path, fn)
		}
	}
}

// Watch opens a watch on path unless one is already open.
func (m *Manager) Watch(ctx context.Context, path string, fn func(tree.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[path]; !ok {
		m.subs[path] = m.tree.Watch(ctx, path, fn)
	}
}

// Close closes the watch on path, if any.
func (m *Manager) Close(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[path]; ok {
		sub.Close()
		delete(m.subs, path)
	}
}

// CloseAll closes every watch.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, sub := range m.subs {
		sub.Close()
		delete(m.subs, path)
	}
}

// Paths lists the watched paths in order.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for p := range m.subs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
