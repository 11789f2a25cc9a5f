package tree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// normalize converts any JSON-encodable value into the generic
// map[string]any / []any / scalar form.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// flatten writes every leaf of v below path into out. Objects are expanded,
// arrays and scalars are stored whole. Nulls and empty objects produce nothing.
func flatten(path string, v any, out map[string][]byte) error {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range val {
			if strings.Contains(k, "/") || k == "" {
				return fmt.Errorf("invalid key %q under %q", k, path)
			}
			if err := flatten(Join(path, k), child, out); err != nil {
				return err
			}
		}
		return nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode leaf %q: %w", path, err)
		}
		out[path] = raw
		return nil
	}
}

// unflatten rebuilds the value stored at base from its leaves.
func unflatten(base string, leaves map[string][]byte) (any, error) {
	if len(leaves) == 0 {
		return nil, nil
	}
	if raw, ok := leaves[base]; ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode leaf %q: %w", base, err)
		}
		return v, nil
	}

	root := map[string]any{}
	for p, raw := range leaves {
		if !InSubtree(base, p) {
			continue
		}
		rel := p
		if base != "" {
			rel = strings.TrimPrefix(p, base+"/")
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode leaf %q: %w", p, err)
		}
		segs := strings.Split(rel, "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[seg] = next
			}
			node = next
		}
		node[segs[len(segs)-1]] = v
	}
	if len(root) == 0 {
		return nil, nil
	}
	return root, nil
}
