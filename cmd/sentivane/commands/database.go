package commands

import (
	"database/sql"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/db"
	"github.com/sentivane/sentivane/errors"
	"github.com/sentivane/sentivane/logger"
)

// openDatabase loads config, opens the database and applies migrations.
func openDatabase() (*config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, errors.Wrapf(err, "failed to run migrations on %s", cfg.Database.Path)
	}

	return cfg, database, nil
}

// configuredSourceNames lists the source names from config, for resolving
// unfiltered jobs against the concurrency caps.
func configuredSourceNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	return names
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
