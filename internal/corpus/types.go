// Package corpus provides access to the documents being indexed.
package corpus

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotExist is returned for paths that are not (or no longer) part of the corpus.
var ErrNotExist = errors.New("document does not exist")

// Document describes one source document.
type Document struct {
	Path      string    // Slash-separated path relative to the corpus root
	MTime     time.Time // Last modification time
	CTime     time.Time // Creation time; falls back to MTime where the platform has none
	Extension string    // Lower-case extension including the dot
	Size      int64     // Size in bytes
}

// Title returns the document's short name: its base name without extension.
func (d Document) Title() string {
	return TitleOf(d.Path)
}

// TitleOf derives a human-readable title from a corpus path.
func TitleOf(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Metadata holds structured attributes read from a document.
type Metadata struct {
	Tags        []string       // Tags without the leading '#'
	Frontmatter map[string]any // Parsed YAML frontmatter, nil when absent
}

// Accessor enumerates and reads corpus documents.
type Accessor interface {
	// ListDocuments returns every document in the corpus.
	ListDocuments(ctx context.Context) ([]Document, error)

	// Stat returns a single document, or ErrNotExist.
	Stat(ctx context.Context, path string) (Document, error)

	// Read returns the full text of a document.
	Read(ctx context.Context, path string) (string, error)

	// ReadMetadata returns tags and frontmatter of a document.
	ReadMetadata(ctx context.Context, path string) (Metadata, error)
}

// WalkOptions configures a DirAccessor.
type WalkOptions struct {
	// Root is the corpus directory.
	Root string

	// MaxFileSize is the maximum file size to process (in bytes).
	MaxFileSize int64

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects a .gitignore file at the root.
	UseGitignore bool

	// Extensions limits to specific file extensions (e.g., ".md").
	// Empty means all text files.
	Extensions []string
}

// WalkStats contains statistics from a directory walk.
type WalkStats struct {
	FilesFound   int   // Documents returned
	FilesSkipped int   // Files skipped due to size/pattern/etc
	DirsSkipped  int   // Directories skipped
	TotalBytes   int64 // Total bytes of documents returned
}
