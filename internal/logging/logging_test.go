package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level       string
		wantDebug   bool
		wantInfo    bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"WARN", false, false},
		{"error", false, false},
		{"", false, true},        // default info
		{"verbose", false, true}, // unknown falls back to info
	}
	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			logger := New(tt.level, "text")
			require.NotNil(t, logger)
			assert.Equal(t, tt.wantDebug, logger.Enabled(context.Background(), slog.LevelDebug))
			assert.Equal(t, tt.wantInfo, logger.Enabled(context.Background(), slog.LevelInfo))
		})
	}
}

func TestNewJSONFormat(t *testing.T) {
	require.NotNil(t, New("info", "json"))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req_abc123")
	assert.Equal(t, "req_abc123", RequestID(ctx))

	// A later value shadows the earlier one.
	ctx = WithRequestID(ctx, "req_def456")
	assert.Equal(t, "req_def456", RequestID(ctx))
}

func TestFromContext(t *testing.T) {
	require.NotNil(t, FromContext(context.Background()), "falls back to default logger")

	custom := New("debug", "json")
	ctx := WithLogger(context.Background(), custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestL(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	require.NotNil(t, L(ctx))

	ctx = WithRequestID(ctx, "req_789")
	require.NotNil(t, L(ctx))
}
