// Package catalog mirrors the ingested corpus into Neo4j: Document and User
// nodes joined by AUTHORIZED edges, with per-document chunk counts. The
// graph is advisory metadata for listings and answer sources; access
// enforcement happens in the index filter, not here.
package catalog

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	Name       string
	Owners     []string
	ChunkCount int
	TableCount int
}

type Insight struct {
	ChunkCount int
	TableCount int
	Users      []string
}

// Sync replaces the catalog contents with the given batch. Runs after a
// successful index swap so the graph never describes chunks that are not
// retrievable.
func Sync(ctx context.Context, driver neo4j.DriverWithContext, docs []Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, "MATCH (d:Document) DETACH DELETE d", nil); err != nil {
			return nil, fmt.Errorf("clear documents: %w", err)
		}

		for _, doc := range docs {
			if _, err := tx.Run(ctx, `
				CREATE (d:Document {name: $name, chunk_count: $chunks, table_count: $tables, updated_at: datetime()})
			`, map[string]any{
				"name":   doc.Name,
				"chunks": doc.ChunkCount,
				"tables": doc.TableCount,
			}); err != nil {
				return nil, fmt.Errorf("create document node: %w", err)
			}

			for _, owner := range doc.Owners {
				if _, err := tx.Run(ctx, `
					MATCH (d:Document {name: $name})
					MERGE (u:User {email: $email})
					MERGE (u)-[:AUTHORIZED]->(d)
				`, map[string]any{"name": doc.Name, "email": owner}); err != nil {
					return nil, fmt.Errorf("link user to document: %w", err)
				}
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (u:User)
			WHERE NOT (u)-[:AUTHORIZED]->(:Document)
			DETACH DELETE u
		`, nil); err != nil {
			return nil, fmt.Errorf("prune orphan users: %w", err)
		}

		return nil, nil
	})

	return err
}

// Purge removes every catalog node. Used by the clear command.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, query := range []string{
		"MATCH (d:Document) DETACH DELETE d",
		"MATCH (u:User) DETACH DELETE u",
	} {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Store struct {
	driver neo4j.DriverWithContext
}

func NewStore(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// DocumentInsights returns catalog metadata for the named documents.
func (s *Store) DocumentInsights(ctx context.Context, names []string) (map[string]Insight, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(names) == 0 {
		return map[string]Insight{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.name IN $names
		OPTIONAL MATCH (u:User)-[:AUTHORIZED]->(d)
		WITH d, collect(DISTINCT u.email) AS emails
		RETURN d.name AS name,
		       d.chunk_count AS chunkCount,
		       d.table_count AS tableCount,
		       [e IN emails WHERE e IS NOT NULL] AS users
	`, map[string]any{"names": names})
	if err != nil {
		return nil, fmt.Errorf("run catalog insights query: %w", err)
	}

	insights := make(map[string]Insight, len(names))
	for result.Next(ctx) {
		record := result.Record()
		nameVal, _ := record.Get("name")
		name, ok := nameVal.(string)
		if !ok {
			continue
		}

		chunkVal, _ := record.Get("chunkCount")
		tableVal, _ := record.Get("tableCount")
		usersVal, _ := record.Get("users")

		insights[name] = Insight{
			ChunkCount: toInt(chunkVal),
			TableCount: toInt(tableVal),
			Users:      toStrings(usersVal),
		}
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("catalog insights result error: %w", err)
	}

	return insights, nil
}

func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func toStrings(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}
