package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the bundled SQL migrations in lexical order and then makes
// sure every configured channel has its reading column.
func (r *Repository) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres: list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %q: %w", name, err)
		}

		statements := strings.TrimSpace(string(contents))
		if statements == "" {
			r.info("skipping empty migration", "migration", name)
			continue
		}

		if _, err := r.db.ExecContext(ctx, statements); err != nil {
			return fmt.Errorf("postgres: apply migration %q: %w", name, err)
		}
		r.info("migration applied", "migration", name)
	}

	return r.ensureChannelColumns(ctx)
}

func (r *Repository) ensureChannelColumns(ctx context.Context) error {
	for i, column := range r.columns {
		stmt := fmt.Sprintf("ALTER TABLE measurements ADD COLUMN IF NOT EXISTS %s DOUBLE PRECISION", column)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: add column for channel %s: %w", r.channels[i], err)
		}
	}
	return nil
}
