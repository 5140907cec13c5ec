package chat

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const chunkTypeTable = "table"

// Retriever performs scoped similarity search over the chunk index. Every
// method requires a valid Scope; there is no unscoped search.
type Retriever interface {
	Search(ctx context.Context, embedding []float32, scope Scope, limit int) ([]ChunkResult, error)
	SearchTables(ctx context.Context, embedding []float32, scope Scope, limit int) ([]ChunkResult, error)
}

type PostgresRetriever struct {
	pool *pgxpool.Pool
}

func NewPostgresRetriever(pool *pgxpool.Pool) *PostgresRetriever {
	return &PostgresRetriever{pool: pool}
}

func (r *PostgresRetriever) Search(ctx context.Context, embedding []float32, scope Scope, limit int) ([]ChunkResult, error) {
	return r.search(ctx, embedding, scope, limit, false)
}

// SearchTables restricts the search to table chunks within the same scope.
// Used by the orchestrator's fallback when the model answers "I don't know".
func (r *PostgresRetriever) SearchTables(ctx context.Context, embedding []float32, scope Scope, limit int) ([]ChunkResult, error) {
	return r.search(ctx, embedding, scope, limit, true)
}

func (r *PostgresRetriever) search(ctx context.Context, embedding []float32, scope Scope, limit int, tablesOnly bool) ([]ChunkResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	query := `
        SELECT content, chunk_type, pdf_filename, position,
               (embedding <-> $1::vector) AS distance
        FROM doc_chunks
        WHERE user_email = $2 AND pdf_filename = $3
    `
	args := []any{pgvector.NewVector(embedding), scope.UserEmail, scope.Document}
	if tablesOnly {
		query += " AND chunk_type = $4"
		args = append(args, chunkTypeTable)
	}
	query += fmt.Sprintf(" ORDER BY embedding <-> $1::vector LIMIT %d", limit)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scoped chunks: %w", err)
	}
	defer rows.Close()

	results, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanChunks(rows pgx.Rows) ([]ChunkResult, error) {
	results := make([]ChunkResult, 0)
	for rows.Next() {
		var item ChunkResult
		var distance float64
		if err := rows.Scan(&item.Content, &item.Type, &item.Document, &item.Position, &distance); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		item.Score = 1 / (1 + distance)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

var _ Retriever = (*PostgresRetriever)(nil)
