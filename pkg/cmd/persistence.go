package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/reviewloop/reviewloop/pkg/persistence"
	"github.com/reviewloop/reviewloop/pkg/persistence/memory"
	"github.com/reviewloop/reviewloop/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme. An empty URL or the memory scheme yields the in-memory store.
func NewPersistence(databaseURL string, logger *slog.Logger) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(databaseURL, logger)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	default:
		return memory.NewPersistence()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)

	return parts[0]
}
