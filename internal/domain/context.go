package domain

import (
	"strconv"
	"time"
)

// SourceKind identifies where a context chunk came from.
type SourceKind string

const (
	SourceLiveFile      SourceKind = "live-file"
	SourceKnowledgeBase SourceKind = "knowledge-base"
	SourceRecentChange  SourceKind = "recent-change"
)

// ChunkSource locates a chunk. Line is zero when the chunk is not line anchored.
type ChunkSource struct {
	Kind      SourceKind `json:"kind"`
	Path      string     `json:"path"`
	Line      int        `json:"line,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
}

// ContextChunk is a scored snippet eligible for the context window.
type ContextChunk struct {
	Text   string      `json:"text"`
	Score  float64     `json:"score"`
	Source ChunkSource `json:"source"`
}

// DedupKey identifies a chunk for de-duplication.
func (c ContextChunk) DedupKey() string {
	return string(c.Source.Kind) + "|" + c.Source.Path + "|" + strconv.Itoa(c.Source.Line)
}

// SourceMeta summarises a chunk that made it into the window.
type SourceMeta struct {
	Kind   SourceKind `json:"kind"`
	Path   string     `json:"path"`
	Line   int        `json:"line,omitempty"`
	Score  float64    `json:"score"`
	Tokens int        `json:"tokens"`
}

// ContextResult is the assembled context window.
type ContextResult struct {
	Text     string
	Chunks   []ContextChunk
	Sources  []SourceMeta
	Query    string
	Expanded bool
	Tokens   int
	// Degraded names the sources that failed and were skipped.
	Degraded []string
}

// SearchHit is a single match returned by a live file search.
type SearchHit struct {
	Path    string
	Line    int
	Content string
}

// KnowledgeChunk is a document fragment returned by the knowledge index.
type KnowledgeChunk struct {
	Path  string
	Text  string
	Score float64
}

// ChangeEntry is a recently modified file reported by the change feed.
type ChangeEntry struct {
	Path       string
	ModifiedAt time.Time
}
