package observability

import (
	"log/slog"

	"github.com/tphakala/go-cubeb/internal/logging"
)

// logger returns the observability service logger, or the default logger before
// logging.Init.
func logger() *slog.Logger {
	if l := logging.ForService("observability"); l != nil {
		return l
	}
	return slog.Default().With("service", "observability")
}
