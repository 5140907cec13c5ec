package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pgvector/pgvector-go"

	"github.com/docchat/doc-chat/access"
	"github.com/docchat/doc-chat/catalog"
	"github.com/docchat/doc-chat/database"
	"github.com/docchat/doc-chat/embeddings"
	"github.com/docchat/doc-chat/extract"
)

type Service struct {
	pool      *pgxpool.Pool
	driver    neo4j.DriverWithContext
	embedder  embeddings.Embedder
	registry  *access.Registry
	logger    *log.Logger
	dimension int
}

func NewService(pool *pgxpool.Pool, driver neo4j.DriverWithContext, embedder embeddings.Embedder, registry *access.Registry, logger *log.Logger, dimension int) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		pool:      pool,
		driver:    driver,
		embedder:  embedder,
		registry:  registry,
		logger:    logger,
		dimension: dimension,
	}
}

// IngestDirectory rebuilds the whole index from the PDFs under dir. The
// batch is staged and swapped in atomically: retrieval keeps reading the
// previous index until the swap commits, and a failed batch leaves the
// previous index intact. A file that fails extraction or matches no
// registry entry is skipped; an embedding or write failure aborts the
// batch.
func (s *Service) IngestDirectory(ctx context.Context, dir string) error {
	if s.embedder == nil {
		return fmt.Errorf("embedder not configured")
	}
	if s.registry == nil {
		return fmt.Errorf("access registry not configured")
	}

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("docs directory: %w", err)
	}

	paths := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk docs directory: %w", err)
	}

	if len(paths) == 0 {
		s.logger.Printf("no pdf files found in %s", dir)
		return nil
	}

	if err := database.EnsureExtension(ctx, s.pool); err != nil {
		return err
	}
	if err := database.CreateStaging(ctx, s.pool, s.dimension); err != nil {
		return err
	}

	docs := make([]catalog.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := s.stageFile(ctx, path)
		if err != nil {
			if dropErr := database.DropStaging(ctx, s.pool); dropErr != nil {
				s.logger.Printf("drop staging after failure: %v", dropErr)
			}
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		if doc != nil {
			docs = append(docs, *doc)
		}
	}

	if err := database.SwapStaging(ctx, s.pool); err != nil {
		if dropErr := database.DropStaging(ctx, s.pool); dropErr != nil {
			s.logger.Printf("drop staging after failure: %v", dropErr)
		}
		return err
	}

	if s.driver != nil {
		if err := catalog.Sync(ctx, s.driver, docs); err != nil {
			s.logger.Printf("catalog sync: %v", err)
		}
	}

	s.logger.Printf("ingested %d documents", len(docs))
	return nil
}

// stageFile extracts, tags, embeds, and loads one document into the staging
// table. Returns nil, nil when the file is skipped.
func (s *Service) stageFile(ctx context.Context, path string) (*catalog.Document, error) {
	name := filepath.Base(path)

	owners := s.registry.OwnersOf(name)
	if len(owners) == 0 {
		s.logger.Printf("skip %s: no registry entry grants access to it", name)
		return nil, nil
	}

	extracted, err := extract.ReadPDF(path)
	if err != nil {
		s.logger.Printf("skip %s: %v", name, err)
		return nil, nil
	}

	chunks := BuildChunks(name, extracted.Pages, extracted.Tables, owners)
	if len(chunks) == 0 {
		s.logger.Printf("skip empty document %s", name)
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tableCount := 0
	for i, chunk := range chunks {
		if chunk.Type == ChunkTypeTable {
			tableCount++
		}
		if _, err := tx.Exec(ctx, database.StagingInsert(),
			uuid.New(), chunk.Owner, chunk.Document, chunk.Type, chunk.Position, chunk.Content,
			pgvector.NewVector(vectors[i]),
		); err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chunks: %w", err)
	}

	s.logger.Printf("staged %s (%d chunks for %d users)", name, len(chunks), len(owners))
	return &catalog.Document{
		Name:       name,
		Owners:     owners,
		ChunkCount: len(chunks) / len(owners),
		TableCount: tableCount / len(owners),
	}, nil
}
