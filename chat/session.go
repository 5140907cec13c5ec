package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/docchat/doc-chat/access"
	"github.com/docchat/doc-chat/llm"
)

var ErrNotAuthorized = errors.New("not authorized for document")

// Session carries one logged-in user's state through the pipeline: the
// selected document and the conversation history. There is no ambient
// session state; everything the orchestrator needs travels in here.
// Sessions are shared across concurrent HTTP requests for the same token,
// so the mutable selection and history are mutex-guarded.
type Session struct {
	UserEmail string
	Documents []string

	mu       sync.Mutex
	document string
	history  []llm.Message
}

// NewSession authenticates the email against the registry. An unknown email
// is an authentication failure; a known user with no documents gets a valid
// session with an empty selection. The stored email is normalized to lower
// case so the retrieval scope matches the index, which tags chunks with the
// registry's normalized emails.
func NewSession(registry *access.Registry, email string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	docs, err := registry.AuthorizedDocuments(email)
	if err != nil {
		return nil, err
	}
	return &Session{UserEmail: email, Documents: docs}, nil
}

// SelectDocument switches the session to the given document. Switching
// clears the conversation history so stale context cannot leak into the new
// retrieval scope. Re-selecting the current document keeps the history.
func (s *Session) SelectDocument(document string) error {
	authorized := false
	for _, doc := range s.Documents {
		if doc == document {
			authorized = true
			break
		}
	}
	if !authorized {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, document)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.document != document {
		s.document = document
		s.history = nil
	}
	return nil
}

func (s *Session) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

// History returns a copy of the conversation turns so far, oldest first.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

func (s *Session) appendTurn(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: question},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
}
