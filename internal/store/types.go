// Package store holds indexed document records in memory and serializes them
// to a single SQLite snapshot per corpus.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Open when no usable snapshot exists.
	ErrNotFound = errors.New("index snapshot not found")

	// ErrDimensionMismatch is returned when a vector does not match the schema.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index is closed")
)

// Schema describes the shape of every record in an index.
type Schema struct {
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"` // Embedding identity the index was created for
}

// Record is one indexed document.
type Record struct {
	ID             string         `json:"id"`
	Path           string         `json:"path"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"-"`
	EmbeddingModel string         `json:"embedding_model"`
	CreatedAt      time.Time      `json:"created_at"`
	MTime          time.Time      `json:"mtime"`
	CTime          time.Time      `json:"ctime"`
	Tags           []string       `json:"tags,omitempty"`
	Extension      string         `json:"extension"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Hit is a search result.
type Hit struct {
	Record   *Record `json:"record"`
	Score    float64 `json:"score"`              // Higher is better
	Distance float64 `json:"distance,omitempty"` // Cosine distance, vector search only
}

// Predicate selects records in Query. A nil predicate matches all.
type Predicate func(*Record) bool

// RecordID derives the stable identifier for a document path.
func RecordID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}
