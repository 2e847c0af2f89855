package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddEmbeddingsTable, downAddEmbeddingsTable)
}

func upAddEmbeddingsTable(ctx context.Context, tx *sql.Tx) error {
	// CREATE TABLE IF NOT EXISTS is safe - idempotent by design
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS learning_embeddings (
			learning_id TEXT PRIMARY KEY REFERENCES learnings(id) ON DELETE CASCADE,
			embedding BLOB NOT NULL,
			model TEXT NOT NULL,
			dimensions INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_embeddings_model ON learning_embeddings(model)`)
	return err
}

func downAddEmbeddingsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS learning_embeddings`)
	return err
}
