package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/persistence/file"
	"github.com/taskforge/taskforge/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the URL scheme:
// postgres:// and postgresql:// use PostgreSQL, anything else is treated as
// a directory for file persistence (with an optional file:// prefix).
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgresql persistence: %w", err))
		}

		return p
	default:
		return file.NewFilePersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
