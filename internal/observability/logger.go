package observability

import (
	"log/slog"

	"github.com/couchcryptid/incident-risk/internal/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// NewLogger returns the process logger configured from LOG_LEVEL and LOG_FORMAT.
// It is also installed as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "incident-risk")
}
