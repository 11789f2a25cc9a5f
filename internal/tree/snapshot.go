package tree

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Snapshot is the value read at a path. Value is nil when nothing is stored.
type Snapshot struct {
	Path  string
	Value any
}

// Key is the last segment of the snapshot's path.
func (s Snapshot) Key() string {
	return Key(s.Path)
}

// Exists reports whether any value is stored at the path.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Bool returns the stored value if it is a boolean, false otherwise.
func (s Snapshot) Bool() bool {
	b, _ := s.Value.(bool)
	return b
}

// Decode copies the snapshot into out using the json field tags of out.
func (s Snapshot) Decode(out any) error {
	if s.Value == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(s.Value); err != nil {
		return fmt.Errorf("decode %q: %w", s.Path, err)
	}
	return nil
}

// Child returns the snapshot of a direct child.
func (s Snapshot) Child(key string) Snapshot {
	m, _ := s.Value.(map[string]any)
	return Snapshot{Path: Join(s.Path, key), Value: m[key]}
}

// Children returns the direct children ordered by key.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{Path: Join(s.Path, k), Value: m[k]})
	}
	return out
}

// Keys returns the direct child keys in order.
func (s Snapshot) Keys() []string {
	children := s.Children()
	keys := make([]string, len(children))
	for i, c := range children {
		keys[i] = c.Key()
	}
	return keys
}
