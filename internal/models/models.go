package models

import (
	"fmt"
	"time"
)

type SourceKind string

const (
	SourcePDF SourceKind = "pdf"
	SourceURL SourceKind = "url"
)

func (k SourceKind) Valid() bool {
	return k == SourcePDF || k == SourceURL
}

// Source is one ingestible input. ID is a filesystem path for PDFs and the
// URL string for articles.
type Source struct {
	ID   string     `json:"id"`
	Kind SourceKind `json:"kind"`
}

type LedgerEntry struct {
	Fingerprint string     `json:"document_id"`
	Source      string     `json:"document_source"`
	Kind        SourceKind `json:"document_type"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// ChunkMetadata travels with every indexed chunk. Page is nil for chunks
// produced by the splitter.
type ChunkMetadata struct {
	Source        string         `json:"source"`
	SourceType    SourceKind     `json:"source_type"`
	SourceURL     string         `json:"source_url,omitempty"`
	Title         string         `json:"title,omitempty"`
	Page          *int           `json:"page,omitempty"`
	ChunkIndex    int            `json:"chunk_index"`
	TotalChunks   int            `json:"total_chunks"`
	ParsingMethod string         `json:"parsing_method,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkID is the index address of the i-th chunk of source.
func ChunkID(index int, source string) string {
	return fmt.Sprintf("%d-%s", index, source)
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// DocumentMetadata is what a parser knows about a whole document.
type DocumentMetadata struct {
	Source        string         `json:"source"`
	SourceType    SourceKind     `json:"source_type"`
	SourceURL     string         `json:"source_url,omitempty"`
	Title         string         `json:"title,omitempty"`
	ParsingMethod string         `json:"parsing_method,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// PageChunk is a parser-provided segment with its 1-based page.
type PageChunk struct {
	Content string `json:"content"`
	Page    int    `json:"page"`
}

type Role string

const (
	RoleUser      Role = "human"
	RoleAssistant Role = "ai"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func IntPtr(v int) *int {
	return &v
}
