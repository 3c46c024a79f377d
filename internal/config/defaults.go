package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Corpus defaults
	DefaultCorpusRoot  = "."
	DefaultMaxFileSize = 2 << 20 // 2MB
	RCFileName         = ".vaultidxrc.yaml"

	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"
	DefaultRequestsPerSecond = 10.0
	DefaultBurst             = 1
	DefaultQueryCacheSize    = 256
	DefaultQueryCacheTTL     = 30 * time.Minute

	// Storage defaults
	DefaultAutosave = "@every 1m"

	// Indexing defaults
	DefaultDebounceDelay     = 10 * time.Second
	DefaultPausePollInterval = 100 * time.Millisecond
	DefaultFinalizeDelay     = 200 * time.Millisecond
)

// DefaultExtensions returns the content types indexed by default.
func DefaultExtensions() []string {
	return []string{".md", ".txt"}
}

// DefaultIgnorePatterns returns the default list of file patterns to ignore.
func DefaultIgnorePatterns() []string {
	return []string{
		// Vault and editor state
		".obsidian/",
		".trash/",
		".git/",
		".idea/",
		".vscode/",
		"*.swp",
		"*~",

		// Attachments
		"*.png",
		"*.jpg",
		"*.jpeg",
		"*.gif",
		"*.pdf",
		"*.mp3",
		"*.mp4",

		// Misc
		".DS_Store",
		"Thumbs.db",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/vaultidx"
	}
	return filepath.Join(home, ".config", "vaultidx")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/vaultidx"
	}
	return filepath.Join(home, ".local", "share", "vaultidx")
}

// DefaultStorageDir returns the directory holding one snapshot per corpus.
func DefaultStorageDir() string {
	return filepath.Join(DefaultDataDir(), "indexes")
}
