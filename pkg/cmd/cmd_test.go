package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/cadencehq/cadence/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEventBusProviderSelection(t *testing.T) {
	logger := testLogger()

	// Empty provider disables lifecycle events entirely.
	bus, err := NewEventBus("", logger)
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = NewEventBus("memory", logger)
	require.NoError(t, err)
	require.NotNil(t, bus)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("carrier-pigeon", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported event bus provider")
}

func TestNewPersistenceSelection(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()

	tests := []struct {
		name string
		url  string
	}{
		{name: "bare path", url: t.TempDir()},
		{name: "file scheme", url: "file://" + t.TempDir()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewPersistence(ctx, logger, tt.url)
			require.NoError(t, err)
			assert.IsType(t, &file.Persistence{}, store)
			require.NoError(t, store.Close(ctx))
		})
	}

	_, err := NewPersistence(ctx, logger, "mysql://localhost/cadence")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported persistence provider")
}
