package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Ignorer defines the interface for pattern matching.
type Ignorer interface {
	MatchesPath(path string) bool
}

// combinedIgnorer wraps two ignorers.
type combinedIgnorer struct {
	file     *gitignore.GitIgnore
	patterns *gitignore.GitIgnore
}

// MatchesPath returns true if the path matches any ignore pattern.
func (c *combinedIgnorer) MatchesPath(path string) bool {
	return c.file.MatchesPath(path) || c.patterns.MatchesPath(path)
}

// DirAccessor implements Accessor over a directory tree.
type DirAccessor struct {
	opts    WalkOptions
	ignorer Ignorer
	extSet  map[string]bool

	mu    sync.Mutex
	stats WalkStats
}

var _ Accessor = (*DirAccessor)(nil)

// NewDirAccessor creates an accessor rooted at opts.Root.
func NewDirAccessor(opts WalkOptions) (*DirAccessor, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	a := &DirAccessor{opts: opts}
	if len(opts.Extensions) > 0 {
		a.extSet = make(map[string]bool)
		for _, ext := range opts.Extensions {
			a.extSet[NormalizeExtension(ext)] = true
		}
	}
	a.initIgnorer()

	return a, nil
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Root returns the absolute corpus directory.
func (a *DirAccessor) Root() string {
	return a.opts.Root
}

func (a *DirAccessor) initIgnorer() {
	patterns := append([]string{}, a.opts.IgnorePatterns...)
	combined := gitignore.CompileIgnoreLines(patterns...)

	if a.opts.UseGitignore {
		gitignorePath := filepath.Join(a.opts.Root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			gi, err := gitignore.CompileIgnoreFile(gitignorePath)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", gitignorePath, "error", err)
			} else {
				a.ignorer = &combinedIgnorer{file: gi, patterns: combined}
				return
			}
		}
	}

	a.ignorer = combined
}

// ListDocuments walks the corpus and returns every indexable document in
// lexical path order.
func (a *DirAccessor) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	stats := WalkStats{}

	err := filepath.WalkDir(a.opts.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", p, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath, err := filepath.Rel(a.opts.Root, p)
		if err != nil {
			relPath = p
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && a.Ignored(relPath, true) {
				stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if a.Ignored(relPath, false) || !a.HasIndexableExtension(relPath) {
			stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", p, "error", err)
			return nil
		}
		if a.opts.MaxFileSize > 0 && info.Size() > a.opts.MaxFileSize {
			stats.FilesSkipped++
			return nil
		}
		if isBinary, err := isBinaryFile(p); err != nil || isBinary {
			stats.FilesSkipped++
			return nil
		}

		stats.FilesFound++
		stats.TotalBytes += info.Size()
		docs = append(docs, documentFromInfo(relPath, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}

	a.mu.Lock()
	a.stats = stats
	a.mu.Unlock()

	return docs, nil
}

// Stats returns statistics of the last ListDocuments call.
func (a *DirAccessor) Stats() WalkStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Stat returns the document at relPath.
func (a *DirAccessor) Stat(ctx context.Context, relPath string) (Document, error) {
	full, err := a.resolve(relPath)
	if err != nil {
		return Document{}, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotExist, relPath)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to stat document: %w", err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("%w: %s is a directory", ErrNotExist, relPath)
	}
	return documentFromInfo(Clean(relPath), info), nil
}

// Read returns the text of the document at relPath.
func (a *DirAccessor) Read(ctx context.Context, relPath string) (string, error) {
	full, err := a.resolve(relPath)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotExist, relPath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(content), nil
}

// ReadMetadata parses frontmatter and tags of the document at relPath.
func (a *DirAccessor) ReadMetadata(ctx context.Context, relPath string) (Metadata, error) {
	content, err := a.Read(ctx, relPath)
	if err != nil {
		return Metadata{}, err
	}
	return ParseMetadata(content)
}

// Ignored reports whether relPath is excluded by hidden-file rules or ignore
// patterns. Directories are matched with a trailing slash.
func (a *DirAccessor) Ignored(relPath string, isDir bool) bool {
	relPath = Clean(relPath)
	name := path.Base(relPath)

	if name == ".git" {
		return true
	}
	if !a.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	if isDir {
		return a.ignorer.MatchesPath(relPath + "/")
	}
	for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if !a.opts.IncludeHidden && strings.HasPrefix(path.Base(dir), ".") {
			return true
		}
	}
	return a.ignorer.MatchesPath(relPath)
}

// HasIndexableExtension reports whether relPath has one of the configured
// extensions. Without configured extensions every file qualifies.
func (a *DirAccessor) HasIndexableExtension(relPath string) bool {
	if a.extSet == nil {
		return true
	}
	return a.extSet[strings.ToLower(path.Ext(relPath))]
}

// Rel converts an absolute file system path into a corpus path.
func (a *DirAccessor) Rel(absPath string) (string, error) {
	rel, err := filepath.Rel(a.opts.Root, absPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the corpus", absPath)
	}
	return filepath.ToSlash(rel), nil
}

// Clean normalizes a corpus path to slash-separated form without a leading slash.
func Clean(relPath string) string {
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(relPath)), "/")
}

func (a *DirAccessor) resolve(relPath string) (string, error) {
	clean := Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s escapes the corpus root", ErrNotExist, relPath)
	}
	return filepath.Join(a.opts.Root, filepath.FromSlash(clean)), nil
}

func documentFromInfo(relPath string, info fs.FileInfo) Document {
	return Document{
		Path:      relPath,
		MTime:     info.ModTime(),
		CTime:     info.ModTime(),
		Extension: strings.ToLower(path.Ext(relPath)),
		Size:      info.Size(),
	}
}

// isBinaryFile checks if a file appears to be binary.
func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// Read first 8KB
	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}

	return isBinaryContent(buf[:n]), nil
}

// isBinaryContent checks if content appears to be binary.
func isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	nonPrintable := 0
	for _, b := range content {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}

	// More than 30% control bytes reads as binary
	return float64(nonPrintable)/float64(len(content)) > 0.3
}
