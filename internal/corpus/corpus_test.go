package corpus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func paths(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return out
}

// TestIsBinaryContent tests binary detection.
func TestIsBinaryContent(t *testing.T) {
	assert.False(t, isBinaryContent([]byte("Hello, World!\n")))
	assert.False(t, isBinaryContent([]byte("line1\nline2\tindented")))
	assert.True(t, isBinaryContent([]byte("hello\x00world")))
	assert.False(t, isBinaryContent([]byte{}))
}

func TestListDocuments(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"Daily/2024-01-01.md":   "# New year\n",
		"Projects/Vault.md":     "Indexing notes\n",
		"Projects/draft.txt":    "plain text\n",
		"attachments/image.png": "\x89PNG\x00\x00",
		".obsidian/app.json":    "{}",
		"Archive/old.md":        "old\n",
		"binary.md":             "bin\x00ary",
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("Archive/\n"), 0644))

	t.Run("skips hidden, ignored and binary files", func(t *testing.T) {
		acc, err := NewDirAccessor(WalkOptions{
			Root:           root,
			UseGitignore:   true,
			IgnorePatterns: []string{"*.png"},
		})
		require.NoError(t, err)

		docs, err := acc.ListDocuments(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{"Daily/2024-01-01.md", "Projects/Vault.md", "Projects/draft.txt"}, paths(docs))

		stats := acc.Stats()
		assert.Equal(t, 3, stats.FilesFound)
		assert.Greater(t, stats.TotalBytes, int64(0))
	})

	t.Run("respects extension filter", func(t *testing.T) {
		acc, err := NewDirAccessor(WalkOptions{
			Root:         root,
			UseGitignore: true,
			Extensions:   []string{"MD"},
		})
		require.NoError(t, err)

		docs, err := acc.ListDocuments(context.Background())
		require.NoError(t, err)
		for _, d := range docs {
			assert.Equal(t, ".md", d.Extension)
		}
		assert.Len(t, docs, 2)
	})

	t.Run("respects max file size", func(t *testing.T) {
		acc, err := NewDirAccessor(WalkOptions{Root: root, MaxFileSize: 12, UseGitignore: true})
		require.NoError(t, err)

		docs, err := acc.ListDocuments(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"Daily/2024-01-01.md", "Projects/draft.txt"}, paths(docs))
	})

	t.Run("honors cancellation", func(t *testing.T) {
		acc, err := NewDirAccessor(WalkOptions{Root: root})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = acc.ListDocuments(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewDirAccessorErrors(t *testing.T) {
	_, err := NewDirAccessor(WalkOptions{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = NewDirAccessor(WalkOptions{Root: file})
	assert.Error(t, err)
}

func TestStatAndRead(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"Notes/Idea.md": "an idea\n"})

	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "Notes", "Idea.md"), mtime, mtime))

	acc, err := NewDirAccessor(WalkOptions{Root: root})
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := acc.Stat(ctx, "Notes/Idea.md")
	require.NoError(t, err)
	assert.Equal(t, "Notes/Idea.md", doc.Path)
	assert.True(t, doc.MTime.Equal(mtime))
	assert.Equal(t, doc.MTime, doc.CTime)
	assert.Equal(t, "Idea", doc.Title())

	content, err := acc.Read(ctx, "/Notes/Idea.md")
	require.NoError(t, err)
	assert.Equal(t, "an idea\n", content)

	_, err = acc.Stat(ctx, "Notes/Gone.md")
	assert.ErrorIs(t, err, ErrNotExist)
	_, err = acc.Read(ctx, "Notes/Gone.md")
	assert.ErrorIs(t, err, ErrNotExist)
	_, err = acc.Read(ctx, "../outside.md")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestIgnored(t *testing.T) {
	acc, err := NewDirAccessor(WalkOptions{
		Root:           t.TempDir(),
		IgnorePatterns: []string{"templates/", "*.canvas"},
	})
	require.NoError(t, err)

	assert.True(t, acc.Ignored(".obsidian", true))
	assert.True(t, acc.Ignored(".obsidian/workspace.json", false))
	assert.True(t, acc.Ignored("templates", true))
	assert.True(t, acc.Ignored("board.canvas", false))
	assert.False(t, acc.Ignored("Notes/a.md", false))
	assert.False(t, acc.Ignored("Notes", true))
}

func TestRel(t *testing.T) {
	root := t.TempDir()
	acc, err := NewDirAccessor(WalkOptions{Root: root})
	require.NoError(t, err)

	rel, err := acc.Rel(filepath.Join(acc.Root(), "a", "b.md"))
	require.NoError(t, err)
	assert.Equal(t, "a/b.md", rel)

	_, err = acc.Rel(filepath.Dir(acc.Root()))
	assert.Error(t, err)
}

func TestParseMetadata(t *testing.T) {
	t.Run("frontmatter list and inline tags", func(t *testing.T) {
		content := "---\ntags: [project, Area/Work]\ncreated: 2023-05-04\n---\n# Title\nSome #idea and #project again.\n"
		meta, err := ParseMetadata(content)
		require.NoError(t, err)

		assert.Equal(t, []string{"project", "Area/Work", "idea"}, meta.Tags)
		created, ok := meta.CreatedAt()
		require.True(t, ok)
		assert.Equal(t, 2023, created.Year())
		assert.Equal(t, time.May, created.Month())
	})

	t.Run("frontmatter string tags", func(t *testing.T) {
		meta, err := ParseMetadata("---\ntags: alpha, beta\n---\nbody")
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta"}, meta.Tags)
	})

	t.Run("ignores headings, numbers and code fences", func(t *testing.T) {
		content := "# Heading\nissue #123 fixed\n```\n#notatag\n```\nreal #tag/nested/\n"
		meta, err := ParseMetadata(content)
		require.NoError(t, err)
		assert.Nil(t, meta.Frontmatter)
		assert.Equal(t, []string{"tag/nested"}, meta.Tags)
	})

	t.Run("non-string keys", func(t *testing.T) {
		meta, err := ParseMetadata("---\nscores:\n  1: low\n  2: [a, {3: b}]\n---\nbody")
		require.NoError(t, err)

		scores, ok := meta.Frontmatter["scores"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "low", scores["1"])
		assert.Equal(t, []any{"a", map[string]any{"3": "b"}}, scores["2"])

		_, err = json.Marshal(meta.Frontmatter)
		assert.NoError(t, err)
	})

	t.Run("invalid frontmatter", func(t *testing.T) {
		meta, err := ParseMetadata("---\ntags: [unclosed\n---\nbody #kept\n")
		assert.Error(t, err)
		assert.Equal(t, []string{"kept"}, meta.Tags)
	})

	t.Run("unterminated frontmatter is body", func(t *testing.T) {
		_, body, ok := SplitFrontmatter("---\nno end #x")
		assert.False(t, ok)
		assert.Equal(t, "---\nno end #x", body)
	})
}
