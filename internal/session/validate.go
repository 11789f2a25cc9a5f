package session

import (
	"fmt"
	"regexp"
)

// maxSocketPath is the smallest sun_path among supported platforms (darwin).
const maxSocketPath = 104

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name can be used as a session directory and that
// the session's socket path still fits in a sockaddr_un.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: up to 64 of [a-z0-9_-], starting with a letter or digit", name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("session %q: socket path is %d bytes (limit %d), set %s to a shorter directory",
			name, len(p), maxSocketPath, HomeEnv)
	}
	return nil
}
