// Package migrations owns the sqlite schema. Migrations run at boot; there
// is no separate migration CLI.
package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations is the registry the per-file init functions append to.
var Migrations = migrate.NewMigrations()

// BringUpToDate initializes the bookkeeping tables and applies every pending
// migration. The returned group has ID 0 when nothing was pending.
func BringUpToDate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}
