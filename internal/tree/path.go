package tree

import "strings"

// Clean normalises a path: no leading, trailing or repeated slashes.
func Clean(path string) string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// Join joins path segments, cleaning the result.
func Join(segments ...string) string {
	return Clean(strings.Join(segments, "/"))
}

// Key returns the last segment of path.
func Key(path string) string {
	path = Clean(path)
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Ancestors returns the proper ancestors of path, nearest last.
// The root ("") is included for any non-root path.
func Ancestors(path string) []string {
	path = Clean(path)
	if path == "" {
		return nil
	}
	out := []string{""}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[:i])
		}
	}
	return out
}

// InSubtree reports whether p equals root or lies below it.
func InSubtree(root, p string) bool {
	if root == "" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

// SubtreeBounds returns the half-open key range [lo, hi) holding every
// strict descendant of path under byte-wise ordering. '0' sorts right after '/'.
func SubtreeBounds(path string) (lo, hi string) {
	return path + "/", path + "0"
}

// Related reports whether a write at p affects what a watcher of path sees:
// p is path itself, one of its descendants, or one of its ancestors.
func Related(path, p string) bool {
	return InSubtree(path, p) || InSubtree(p, path)
}
