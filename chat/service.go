// Package chat orchestrates scoped retrieval and answer generation for one
// user session at a time.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/docchat/doc-chat/catalog"
	"github.com/docchat/doc-chat/embeddings"
	"github.com/docchat/doc-chat/llm"
)

const (
	defaultSimilarityLimit = 5

	// The system prompt instructs the model to answer with exactly this
	// when the context does not contain the answer; the fallback keys on
	// it case-insensitively.
	nonAnswer = "i don't know"
)

type InsightStore interface {
	DocumentInsights(ctx context.Context, names []string) (map[string]catalog.Insight, error)
}

type Service struct {
	retriever Retriever
	insights  InsightStore
	embedder  embeddings.Embedder
	llm       llm.Client
	logger    *log.Logger
}

type Options struct {
	SimilarityLimit int
}

func NewService(retriever Retriever, insights InsightStore, embedder embeddings.Embedder, llmClient llm.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		retriever: retriever,
		insights:  insights,
		embedder:  embedder,
		llm:       llmClient,
		logger:    logger,
	}
}

// Ask answers one question inside the session's (user, document) scope and
// appends the exchange to the session history. An empty retrieval is not an
// error: the model sees no context and is expected to decline, which then
// triggers the table fallback.
func (s *Service) Ask(ctx context.Context, session *Session, question string, opts Options) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, fmt.Errorf("question cannot be empty")
	}
	if session == nil {
		return Response{}, fmt.Errorf("session is required")
	}
	if s.embedder == nil {
		return Response{}, fmt.Errorf("embedder is not configured")
	}
	if s.retriever == nil {
		return Response{}, fmt.Errorf("retriever is not configured")
	}
	if s.llm == nil {
		return Response{}, fmt.Errorf("llm client is not configured")
	}

	scope := Scope{UserEmail: session.UserEmail, Document: session.Document()}
	if err := scope.Validate(); err != nil {
		return Response{}, err
	}

	limit := opts.SimilarityLimit
	if limit <= 0 {
		limit = defaultSimilarityLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Response{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return Response{}, fmt.Errorf("embedder returned no vectors")
	}

	chunks, err := s.retriever.Search(ctx, vectors[0], scope, limit)
	if err != nil {
		return Response{}, fmt.Errorf("scoped retrieval: %w", err)
	}
	if len(chunks) == 0 {
		s.logger.Printf("no context for %s in %s", scope.UserEmail, scope.Document)
	}

	history := session.History()
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: formatUserPrompt(question, chunks)})

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return Response{}, fmt.Errorf("llm generate: %w", err)
	}
	answer = strings.TrimSpace(answer)

	if strings.EqualFold(answer, nonAnswer) {
		if fallback, ok, fbErr := s.tableFallback(ctx, vectors[0], scope, limit); fbErr != nil {
			s.logger.Printf("table fallback: %v", fbErr)
		} else if ok {
			answer = fallback
		}
	}

	session.appendTurn(question, answer)

	return Response{Answer: answer, Sources: s.buildSources(ctx, chunks)}, nil
}

// tableFallback re-runs the search over table chunks only, inside the same
// (user, document) scope, and synthesizes an answer from their contents.
func (s *Service) tableFallback(ctx context.Context, embedding []float32, scope Scope, limit int) (string, bool, error) {
	tables, err := s.retriever.SearchTables(ctx, embedding, scope, limit)
	if err != nil {
		return "", false, err
	}
	if len(tables) == 0 {
		return "", false, nil
	}

	contents := make([]string, len(tables))
	for i, table := range tables {
		contents[i] = table.Content
	}
	return "Here are relevant table results:\n\n" + strings.Join(contents, "\n\n"), true, nil
}

func (s *Service) buildSources(ctx context.Context, chunks []ChunkResult) []Source {
	if len(chunks) == 0 {
		return nil
	}

	names := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		names = append(names, chunk.Document)
	}

	insights := map[string]catalog.Insight{}
	if s.insights != nil {
		found, err := s.insights.DocumentInsights(ctx, unique(names))
		if err != nil {
			s.logger.Printf("catalog insights: %v", err)
		} else {
			insights = found
		}
	}

	grouped := make(map[string]*Source)
	order := make([]string, 0)
	for _, chunk := range chunks {
		source, ok := grouped[chunk.Document]
		if !ok {
			source = &Source{Document: chunk.Document, Score: chunk.Score}
			if insight, ok := insights[chunk.Document]; ok {
				source.ChunkCount = insight.ChunkCount
				source.TableCount = insight.TableCount
			}
			grouped[chunk.Document] = source
			order = append(order, chunk.Document)
		} else if chunk.Score > source.Score {
			source.Score = chunk.Score
		}

		snippet := strings.TrimSpace(chunk.Content)
		if runes := []rune(snippet); len(runes) > 300 {
			snippet = string(runes[:300]) + "..."
		}
		if source.Snippet == "" {
			source.Snippet = snippet
		}
	}

	sources := make([]Source, 0, len(order))
	for _, name := range order {
		sources = append(sources, *grouped[name])
	}
	return sources
}

func systemPrompt() string {
	return "You are a helpful assistant that answers questions based only on the provided context. " +
		"Answer the question using the given context alone. " +
		"If the context does not contain the answer, reply exactly \"I don't know\" and nothing else. " +
		"Never make up answers or rely on outside knowledge. " +
		"Stay consistent with the conversation so far and include as much relevant detail from the context as you can."
}

func formatUserPrompt(question string, chunks []ChunkResult) string {
	var sb strings.Builder
	sb.WriteString("User question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nRelevant document excerpts:\n")
	if len(chunks) == 0 {
		sb.WriteString("(none found)\n")
	}
	for i, chunk := range chunks {
		sb.WriteString(fmt.Sprintf("Excerpt %d", i+1))
		if chunk.Type == chunkTypeTable {
			sb.WriteString(" (table)")
		}
		sb.WriteString(":\n")
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Please provide an answer based on the above information.")
	return sb.String()
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
