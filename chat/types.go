package chat

import (
	"fmt"
	"strings"
)

// Scope pins a retrieval to exactly one (user, document) pair. Both terms
// are mandatory: issuing a search without either would allow cross-user or
// cross-document leakage, so the retriever refuses an invalid scope before
// touching the store.
type Scope struct {
	UserEmail string
	Document  string
}

func (s Scope) Validate() error {
	if strings.TrimSpace(s.UserEmail) == "" {
		return fmt.Errorf("retrieval scope missing user email")
	}
	if strings.TrimSpace(s.Document) == "" {
		return fmt.Errorf("retrieval scope missing document")
	}
	return nil
}

type ChunkResult struct {
	Content  string
	Type     string
	Document string
	Position int
	Score    float64
}

type Source struct {
	Document   string
	Snippet    string
	Score      float64
	ChunkCount int
	TableCount int
}

type Response struct {
	Answer  string
	Sources []Source
}
