package chat_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/docchat/doc-chat/access"
	"github.com/docchat/doc-chat/catalog"
	"github.com/docchat/doc-chat/chat"
	"github.com/docchat/doc-chat/embeddings"
	"github.com/docchat/doc-chat/llm"
)

const testRegistry = `
users:
  alice@email.com: [Accenture.pdf]
  bob@email.com: [Amazon.pdf, CocaCola.pdf]
`

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

type stubRetriever struct {
	results      []chat.ChunkResult
	tableResults []chat.ChunkResult
	err          error

	mu           sync.Mutex
	searchScopes []chat.Scope
	tableScopes  []chat.Scope
}

func (s *stubRetriever) Search(ctx context.Context, embedding []float32, scope chat.Scope, limit int) ([]chat.ChunkResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.searchScopes = append(s.searchScopes, scope)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubRetriever) SearchTables(ctx context.Context, embedding []float32, scope chat.Scope, limit int) ([]chat.ChunkResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.tableScopes = append(s.tableScopes, scope)
	s.mu.Unlock()
	return s.tableResults, nil
}

var _ chat.Retriever = (*stubRetriever)(nil)

type stubInsights struct {
	data map[string]catalog.Insight
}

func (s *stubInsights) DocumentInsights(ctx context.Context, names []string) (map[string]catalog.Insight, error) {
	if s.data == nil {
		return map[string]catalog.Insight{}, nil
	}
	return s.data, nil
}

type stubLLM struct {
	answer string
	err    error
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(messages) == 0 {
		return "", errors.New("no messages provided")
	}
	return s.answer, nil
}

var _ llm.Client = (*stubLLM)(nil)

func loggedInSession(t *testing.T, email, document string) *chat.Session {
	t.Helper()
	reg, err := access.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	session, err := chat.NewSession(reg, email)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := session.SelectDocument(document); err != nil {
		t.Fatalf("select document: %v", err)
	}
	return session
}

func TestAskReturnsAnswerAndSources(t *testing.T) {
	retriever := &stubRetriever{results: []chat.ChunkResult{
		{Content: "Revenue grew in Q4.", Type: "text", Document: "Accenture.pdf", Position: 0, Score: 0.9},
	}}
	svc := chat.NewService(
		retriever,
		&stubInsights{data: map[string]catalog.Insight{"Accenture.pdf": {ChunkCount: 12, TableCount: 2}}},
		&stubEmbedder{vectors: [][]float32{{0.1, 0.2, 0.3}}},
		&stubLLM{answer: "Revenue grew in the fourth quarter."},
		log.New(io.Discard, "", 0),
	)

	session := loggedInSession(t, "alice@email.com", "Accenture.pdf")
	resp, err := svc.Ask(context.Background(), session, "How did revenue develop?", chat.Options{SimilarityLimit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Answer != "Revenue grew in the fourth quarter." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	if resp.Sources[0].ChunkCount != 12 {
		t.Fatalf("expected chunk count 12, got %d", resp.Sources[0].ChunkCount)
	}

	want := chat.Scope{UserEmail: "alice@email.com", Document: "Accenture.pdf"}
	if len(retriever.searchScopes) != 1 || retriever.searchScopes[0] != want {
		t.Fatalf("expected search with scope %+v, got %+v", want, retriever.searchScopes)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc := chat.NewService(&stubRetriever{}, nil, &stubEmbedder{}, &stubLLM{}, log.New(io.Discard, "", 0))
	session := loggedInSession(t, "alice@email.com", "Accenture.pdf")
	if _, err := svc.Ask(context.Background(), session, "   ", chat.Options{}); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestAskRequiresSelectedDocument(t *testing.T) {
	reg, err := access.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	session, err := chat.NewSession(reg, "alice@email.com")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	svc := chat.NewService(
		&stubRetriever{},
		nil,
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{answer: "x"},
		log.New(io.Discard, "", 0),
	)
	if _, err := svc.Ask(context.Background(), session, "question", chat.Options{}); err == nil {
		t.Fatal("expected error when no document is selected")
	}
}

func TestAskFallsBackToTables(t *testing.T) {
	retriever := &stubRetriever{
		tableResults: []chat.ChunkResult{
			{Content: "A | B", Type: "table", Document: "Accenture.pdf", Position: 3, Score: 0.5},
		},
	}
	svc := chat.NewService(
		retriever,
		nil,
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{answer: "I don't know"},
		log.New(io.Discard, "", 0),
	)

	session := loggedInSession(t, "alice@email.com", "Accenture.pdf")
	resp, err := svc.Ask(context.Background(), session, "What is in the table?", chat.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(resp.Answer, "A | B") {
		t.Fatalf("expected fallback answer to contain table content, got %q", resp.Answer)
	}

	// The fallback must run under the same (user, document) scope as the
	// primary retrieval.
	want := chat.Scope{UserEmail: "alice@email.com", Document: "Accenture.pdf"}
	if len(retriever.tableScopes) != 1 || retriever.tableScopes[0] != want {
		t.Fatalf("expected table search with scope %+v, got %+v", want, retriever.tableScopes)
	}
}

func TestAskKeepsNonAnswerWithoutTables(t *testing.T) {
	svc := chat.NewService(
		&stubRetriever{},
		nil,
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{answer: "I don't know"},
		log.New(io.Discard, "", 0),
	)

	session := loggedInSession(t, "alice@email.com", "Accenture.pdf")
	resp, err := svc.Ask(context.Background(), session, "Unanswerable question", chat.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "I don't know" {
		t.Fatalf("expected original non-answer, got %q", resp.Answer)
	}
}

func TestAskAppendsHistory(t *testing.T) {
	svc := chat.NewService(
		&stubRetriever{},
		nil,
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{answer: "The answer."},
		log.New(io.Discard, "", 0),
	)

	session := loggedInSession(t, "bob@email.com", "Amazon.pdf")
	if _, err := svc.Ask(context.Background(), session, "First question", chat.Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history := session.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(history))
	}
	if history[0].Role != llm.RoleUser || history[0].Content != "First question" {
		t.Fatalf("unexpected first turn: %+v", history[0])
	}
	if history[1].Role != llm.RoleAssistant || history[1].Content != "The answer." {
		t.Fatalf("unexpected second turn: %+v", history[1])
	}
}

func TestAskConcurrentOnSameSession(t *testing.T) {
	svc := chat.NewService(
		&stubRetriever{},
		nil,
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{answer: "An answer."},
		log.New(io.Discard, "", 0),
	)

	session := loggedInSession(t, "alice@email.com", "Accenture.pdf")

	const asks = 8
	var wg sync.WaitGroup
	for i := 0; i < asks; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.Ask(context.Background(), session, fmt.Sprintf("Question %d", n), chat.Options{}); err != nil {
				t.Errorf("ask %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(session.History()); got != asks*2 {
		t.Fatalf("expected %d history turns, got %d", asks*2, got)
	}
}

func TestSourceSnippetStaysValidUTF8(t *testing.T) {
	retriever := &stubRetriever{results: []chat.ChunkResult{
		{Content: strings.Repeat("ü", 400), Type: "text", Document: "Accenture.pdf", Score: 0.8},
	}}
	svc := chat.NewService(
		retriever,
		nil,
		&stubEmbedder{vectors: [][]float32{{0.1}}},
		&stubLLM{answer: "An answer."},
		log.New(io.Discard, "", 0),
	)

	session := loggedInSession(t, "alice@email.com", "Accenture.pdf")
	resp, err := svc.Ask(context.Background(), session, "Anything?", chat.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}

	snippet := resp.Sources[0].Snippet
	if !utf8.ValidString(snippet) {
		t.Fatalf("snippet is not valid UTF-8: %q", snippet)
	}
	if got := len([]rune(strings.TrimSuffix(snippet, "..."))); got != 300 {
		t.Fatalf("expected snippet truncated at 300 runes, got %d", got)
	}
}

func TestScopeValidation(t *testing.T) {
	cases := []struct {
		name  string
		scope chat.Scope
		valid bool
	}{
		{"both terms", chat.Scope{UserEmail: "a@b.com", Document: "Doc.pdf"}, true},
		{"missing user", chat.Scope{Document: "Doc.pdf"}, false},
		{"missing document", chat.Scope{UserEmail: "a@b.com"}, false},
		{"blank user", chat.Scope{UserEmail: "  ", Document: "Doc.pdf"}, false},
	}

	for _, tc := range cases {
		err := tc.scope.Validate()
		if tc.valid && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestRetrieverRefusesInvalidScope(t *testing.T) {
	retriever := chat.NewPostgresRetriever(nil)
	if _, err := retriever.Search(context.Background(), []float32{0.1}, chat.Scope{UserEmail: "a@b.com"}, 5); err == nil {
		t.Fatal("expected scope validation error before any store access")
	}
	if _, err := retriever.SearchTables(context.Background(), []float32{0.1}, chat.Scope{Document: "Doc.pdf"}, 5); err == nil {
		t.Fatal("expected scope validation error before any store access")
	}
}
