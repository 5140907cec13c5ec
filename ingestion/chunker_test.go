package ingestion_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/docchat/doc-chat/extract"
	"github.com/docchat/doc-chat/ingestion"
)

func TestSplitTextBoundsAndOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 200) // 2000 runes

	chunks := ingestion.SplitText(text, 512, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if n := len([]rune(chunk)); n > 512 {
			t.Fatalf("chunk %d exceeds bound: %d runes", i, n)
		}
	}

	for i := 0; i < len(chunks)-1; i++ {
		tail := string([]rune(chunks[i])[len([]rune(chunks[i]))-50:])
		head := string([]rune(chunks[i+1])[:50])
		if tail != head {
			t.Fatalf("chunks %d and %d do not share 50 runes of overlap", i, i+1)
		}
	}
}

func TestSplitTextEmptyInput(t *testing.T) {
	if chunks := ingestion.SplitText("   \n\t ", 512, 50); len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank input, got %d", len(chunks))
	}
}

func TestSplitTextShortInput(t *testing.T) {
	chunks := ingestion.SplitText("short text", 512, 50)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if chunks[0] != "short text" {
		t.Fatalf("unexpected chunk content: %q", chunks[0])
	}
}

func TestBuildChunksTagsEveryOwner(t *testing.T) {
	pages := []string{"Some page content about the annual report."}
	tables := []extract.Table{
		{Page: 2, Rows: [][]string{{"Quarter", "Revenue"}, {"Q1", "100"}}},
	}
	owners := []string{"alice@email.com", "bob@email.com"}

	chunks := ingestion.BuildChunks("Report.pdf", pages, tables, owners)
	if len(chunks) != 4 {
		t.Fatalf("expected 2 owners x (1 text + 1 table) = 4 chunks, got %d", len(chunks))
	}

	for _, chunk := range chunks {
		if chunk.Owner == "" || chunk.Document == "" {
			t.Fatalf("chunk missing ownership metadata: %+v", chunk)
		}
		if chunk.Document != "Report.pdf" {
			t.Fatalf("unexpected document tag: %q", chunk.Document)
		}
	}

	tablesSeen := 0
	for _, chunk := range chunks {
		if chunk.Type == ingestion.ChunkTypeTable {
			tablesSeen++
			if chunk.Position != 2 {
				t.Fatalf("table chunk should carry its page number, got %d", chunk.Position)
			}
			if !strings.Contains(chunk.Content, "Q1 | 100") {
				t.Fatalf("table chunk content malformed: %q", chunk.Content)
			}
		}
	}
	if tablesSeen != 2 {
		t.Fatalf("expected one table chunk per owner, got %d", tablesSeen)
	}
}

func TestBuildChunksNoOwnersProducesNothing(t *testing.T) {
	chunks := ingestion.BuildChunks("Orphan.pdf", []string{"content"}, nil, nil)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks without owners, got %d", len(chunks))
	}
}

func TestBuildChunksSkipsBlankTables(t *testing.T) {
	tables := []extract.Table{
		{Page: 1, Rows: [][]string{{"", "  "}, {"\t", ""}}},
	}

	chunks := ingestion.BuildChunks("Report.pdf", nil, tables, []string{"alice@email.com"})
	if len(chunks) != 0 {
		t.Fatalf("expected blank table to produce no chunks, got %d", len(chunks))
	}
}

func TestBuildChunksIsDeterministic(t *testing.T) {
	pages := []string{strings.Repeat("deterministic content ", 60)}
	owners := []string{"alice@email.com", "bob@email.com"}

	first := ingestion.BuildChunks("Report.pdf", pages, nil, owners)
	second := ingestion.BuildChunks("Report.pdf", pages, nil, owners)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected identical chunk output for identical input")
	}
}
