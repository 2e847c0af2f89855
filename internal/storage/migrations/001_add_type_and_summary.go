// Package migrations holds goose schema migrations, registered as Go
// functions and applied by the store on open.
package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddTypeAndSummary, downAddTypeAndSummary)
}

func upAddTypeAndSummary(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`ALTER TABLE learnings ADD COLUMN learning_type TEXT NOT NULL DEFAULT 'pattern'`,
		`ALTER TABLE learnings ADD COLUMN summary TEXT NOT NULL DEFAULT ''`,
	}
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func downAddTypeAndSummary(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`ALTER TABLE learnings DROP COLUMN learning_type`,
		`ALTER TABLE learnings DROP COLUMN summary`,
	}
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
