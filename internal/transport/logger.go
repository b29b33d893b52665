package transport

import "log/slog"

// connLogger scopes transport logs to one backend and the endpoint it dials.
func connLogger(name, target string) *slog.Logger {
	return slog.Default().With("component", "transport", "transport", name, "target", target)
}
