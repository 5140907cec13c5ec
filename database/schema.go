package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureExtension installs pgvector. Runs once per pool before any schema
// statement that mentions the vector type.
func EnsureExtension(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	return nil
}

// CreateStaging creates an empty staging table for a fresh ingestion batch,
// discarding any leftover staging table from an aborted run. The live table
// is untouched until SwapStaging commits.
func CreateStaging(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", stagingTable),
		fmt.Sprintf(`CREATE TABLE %s (
			id UUID PRIMARY KEY,
			user_email TEXT NOT NULL,
			pdf_filename TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			position INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, stagingTable, dimension),
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create staging table: %w", err)
		}
	}
	return nil
}

// SwapStaging atomically replaces the live chunk table with the staging
// table. Postgres DDL is transactional, so a retrieval request sees either
// the old index or the new one, never an empty window in between.
func SwapStaging(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin swap tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", ChunkTable),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", stagingTable, ChunkTable),
		fmt.Sprintf("CREATE INDEX idx_doc_chunks_scope ON %s (user_email, pdf_filename)", ChunkTable),
		fmt.Sprintf("CREATE INDEX idx_doc_chunks_embedding ON %s USING ivfflat (embedding vector_l2_ops)", ChunkTable),
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("swap staging table: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}
	return nil
}

// DropStaging removes a staging table left behind by a failed batch.
func DropStaging(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stagingTable)); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	return nil
}

// DropAll removes the live chunk table and any staging leftovers.
func DropAll(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range []string{ChunkTable, stagingTable} {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// StagingInsert is the statement ingestion uses to load one chunk into the
// staging table.
func StagingInsert() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, user_email, pdf_filename, chunk_type, position, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, stagingTable)
}
