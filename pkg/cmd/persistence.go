// Package cmd provides shared wiring helpers for the command-line
// entrypoints.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/file"
	"github.com/cadencehq/cadence/pkg/persistence/postgresql"
)

// NewPersistence selects a persistence backend from the database URL scheme.
// postgres:// and postgresql:// select PostgreSQL; anything else is treated
// as a file root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return file.NewPersistence(databaseURL), nil
	}

	switch scheme {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgresql persistence: %w", err)
		}

		return store, nil
	case "file":
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", scheme)
	}
}
