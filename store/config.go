package store

import "log/slog"

// Config holds registry-wide settings.
type Config struct {
	// Logger receives debug-level operation logs. Nil falls back to
	// slog.Default().
	Logger *slog.Logger

	// TablePrefix is prepended to every schema table name, e.g. to separate
	// deployment stages sharing one account.
	TablePrefix string
}

// validate normalizes config values.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
