package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/persistence/file"
	"github.com/nivio/flowd/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL
// scheme. "postgres://" and "postgresql://" open PostgreSQL; anything
// else is treated as a directory path for the file backend.
func NewPersistence(databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(context.Background(), slog.Default(), databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgresql persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
