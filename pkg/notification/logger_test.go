package notification_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

func TestResolveLogger(t *testing.T) {
	t.Run("Explicit logger wins over legacy callback", func(t *testing.T) {
		explicit := slog.New(slog.NewTextHandler(io.Discard, nil))
		var called bool
		resolved := notification.ResolveLogger(explicit, func(slog.Level, string) { called = true })

		assert.Same(t, explicit, resolved)
		resolved.Info("ping")
		assert.False(t, called)
	})

	t.Run("Legacy callback receives level and flattened attrs", func(t *testing.T) {
		type line struct {
			level slog.Level
			msg   string
		}
		var lines []line
		logger := notification.ResolveLogger(nil, func(level slog.Level, msg string) {
			lines = append(lines, line{level, msg})
		})

		logger.With("component", "Router").Warn("delivery slow", "elapsed_ms", 1200)

		require.Len(t, lines, 1)
		assert.Equal(t, slog.LevelWarn, lines[0].level)
		assert.Contains(t, lines[0].msg, "delivery slow")
		assert.Contains(t, lines[0].msg, "component=Router")
		assert.Contains(t, lines[0].msg, "elapsed_ms=1200")
	})

	t.Run("Default logger when nothing supplied", func(t *testing.T) {
		assert.NotNil(t, notification.ResolveLogger(nil, nil))
	})
}
