// Package ingestion turns extracted documents into owned, embedded chunks
// and rebuilds the vector index as one atomic batch.
package ingestion

import (
	"strings"

	"github.com/docchat/doc-chat/extract"
)

const (
	ChunkTypeText  = "text"
	ChunkTypeTable = "table"

	// Chunk bounds are measured in runes so multi-byte text does not
	// blow past the limit.
	defaultChunkSize    = 512
	defaultChunkOverlap = 50
)

// Chunk is one retrievable unit with its ownership metadata attached.
// Every chunk carries both an owner email and the source document name;
// the index never stores an entry without an enforceable scope.
type Chunk struct {
	Content  string
	Type     string
	Document string
	Owner    string
	Position int
}

// SplitText slices text into rune-bounded windows. Every produced chunk is
// at most size runes long and consecutive chunks share overlap runes.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// BuildChunks tags every text window and non-empty table of a document with
// each declared owner. Ownership comes from the access registry, stated by
// the caller for the whole file; chunk content plays no part in it. With no
// owners the document produces no chunks.
func BuildChunks(document string, pages []string, tables []extract.Table, owners []string) []Chunk {
	if len(owners) == 0 {
		return nil
	}

	var texts []string
	for _, page := range pages {
		texts = append(texts, SplitText(page, defaultChunkSize, defaultChunkOverlap)...)
	}

	chunks := make([]Chunk, 0, (len(texts)+len(tables))*len(owners))
	for _, owner := range owners {
		for idx, text := range texts {
			chunks = append(chunks, Chunk{
				Content:  text,
				Type:     ChunkTypeText,
				Document: document,
				Owner:    owner,
				Position: idx,
			})
		}
		for _, table := range tables {
			content := extract.FormatTable(table.Rows)
			if content == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:  content,
				Type:     ChunkTypeTable,
				Document: document,
				Owner:    owner,
				Position: table.Page,
			})
		}
	}

	return chunks
}
