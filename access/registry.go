// Package access holds the static user -> document authorization registry.
// The registry is loaded once at startup and never mutated; changing access
// means editing the file and restarting the process.
package access

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownUser = errors.New("unknown user")

type Registry struct {
	users map[string][]string
}

type registryFile struct {
	Users map[string][]string `yaml:"users"`
}

// Load reads a YAML registry of the form:
//
//	users:
//	  alice@email.com: [Accenture.pdf]
//	  bob@email.com: [Amazon.pdf, CocaCola.pdf]
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse access file: %w", err)
	}
	if len(file.Users) == 0 {
		return nil, fmt.Errorf("access file declares no users")
	}

	users := make(map[string][]string, len(file.Users))
	for email, docs := range file.Users {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			return nil, fmt.Errorf("access file contains an empty user email")
		}
		cleaned := make([]string, 0, len(docs))
		for _, doc := range docs {
			doc = strings.TrimSpace(doc)
			if doc == "" {
				continue
			}
			cleaned = append(cleaned, doc)
		}
		sort.Strings(cleaned)
		users[email] = cleaned
	}

	return &Registry{users: users}, nil
}

// AuthorizedDocuments returns the documents the given user may query.
// Unknown users are an authentication failure, not an empty result.
func (r *Registry) AuthorizedDocuments(email string) ([]string, error) {
	docs, ok := r.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, email)
	}
	return append([]string(nil), docs...), nil
}

// Authorized reports whether the user may query the given document.
func (r *Registry) Authorized(email, document string) bool {
	docs, err := r.AuthorizedDocuments(email)
	if err != nil {
		return false
	}
	for _, doc := range docs {
		if doc == document {
			return true
		}
	}
	return false
}

// OwnersOf returns every user authorized for the document, in sorted order.
// Ingestion uses this to tag chunks: ownership is declared here, never
// inferred from chunk content.
func (r *Registry) OwnersOf(document string) []string {
	owners := make([]string, 0)
	for email, docs := range r.users {
		for _, doc := range docs {
			if doc == document {
				owners = append(owners, email)
				break
			}
		}
	}
	sort.Strings(owners)
	return owners
}

// Users returns every registered email, in sorted order.
func (r *Registry) Users() []string {
	emails := make([]string, 0, len(r.users))
	for email := range r.users {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}
