package session

import (
	"fmt"

	"github.com/matheus3301/campus/internal/config"
)

const DefaultSessionName = "main"

// Resolve picks the session name from the --session flag, then
// default_session in config.toml, then DefaultSessionName, and validates
// it. A config.toml that cannot be read is an error unless the flag
// already decided.
func Resolve(flagOverride string) (string, error) {
	if flagOverride != "" {
		if err := ValidateName(flagOverride); err != nil {
			return "", fmt.Errorf("--session: %w", err)
		}
		return flagOverride, nil
	}
	path := ConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if cfg.DefaultSession == "" {
		return DefaultSessionName, nil
	}
	if err := ValidateName(cfg.DefaultSession); err != nil {
		return "", fmt.Errorf("%s default_session: %w", path, err)
	}
	return cfg.DefaultSession, nil
}
