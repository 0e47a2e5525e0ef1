package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/couchcryptid/incident-risk/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(&config.Config{LogLevel: tt.level, LogFormat: "json"})
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.want-1))
			}
		})
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger := NewLogger(&config.Config{LogLevel: "info", LogFormat: "text"})
	_, ok := logger.Handler().(*slog.TextHandler)
	assert.True(t, ok)
}
