package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)

	// Corpus defaults
	assert.Equal(t, DefaultCorpusRoot, cfg.Corpus.Root)
	assert.Equal(t, []string{".md", ".txt"}, cfg.Corpus.Extensions)

	// Embeddings defaults
	assert.Equal(t, DefaultEmbeddingProvider, cfg.Embeddings.Provider)
	assert.Equal(t, DefaultOllamaURL, cfg.Embeddings.Ollama.URL)
	assert.Equal(t, DefaultOllamaEmbedModel, cfg.Embeddings.Ollama.Model)
	assert.Equal(t, DefaultOpenAIEmbedModel, cfg.Embeddings.OpenAI.Model)
	assert.Equal(t, DefaultRequestsPerSecond, cfg.Embeddings.RequestsPerSecond)

	// Indexing defaults
	assert.Equal(t, StrategyStartup, cfg.Indexing.Strategy)
	assert.Equal(t, 10*time.Second, cfg.Indexing.DebounceDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Indexing.PausePollInterval)
	assert.Empty(t, cfg.Indexing.Inclusions)

	assert.Contains(t, cfg.Ignore, ".obsidian/")
	assert.NoError(t, cfg.Validate())
}

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), "vaultidx")
	assert.Contains(t, DefaultDataDir(), "vaultidx")
	assert.Equal(t, "indexes", filepath.Base(DefaultStorageDir()))
	assert.Contains(t, GlobalConfigPath(), "config.yaml")
}

func TestLoadWithConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
corpus:
  root: /notes
  name: work
  extensions: [".md"]
embeddings:
  provider: openai
  openai:
    model: text-embedding-3-large
    base_url: https://custom-api.example.com
  requests_per_second: 2.5
  query_cache_ttl: 5m
storage:
  dir: /custom/indexes
  autosave: "@every 30s"
indexing:
  strategy: manual
  exclusions: "Archive, #private, [[Scratch]]"
  debounce_delay: 3s
ignore:
  - "templates/"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	require.NoError(t, Load(configPath))
	loaded := Get()

	assert.Equal(t, "/notes", loaded.Corpus.Root)
	assert.Equal(t, "work", loaded.CorpusName())
	assert.Equal(t, []string{".md"}, loaded.Corpus.Extensions)
	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-large", loaded.Embeddings.OpenAI.Model)
	assert.Equal(t, "https://custom-api.example.com", loaded.Embeddings.OpenAI.BaseURL)
	assert.Equal(t, 2.5, loaded.Embeddings.RequestsPerSecond)
	assert.Equal(t, 5*time.Minute, loaded.Embeddings.QueryCacheTTL)
	assert.Equal(t, "/custom/indexes", loaded.Storage.Dir)
	assert.Equal(t, "@every 30s", loaded.Storage.Autosave)
	assert.Equal(t, StrategyManual, loaded.Indexing.Strategy)
	assert.Equal(t, "Archive, #private, [[Scratch]]", loaded.Indexing.Exclusions)
	assert.Equal(t, 3*time.Second, loaded.Indexing.DebounceDelay)
	assert.Equal(t, DefaultPausePollInterval, loaded.Indexing.PausePollInterval)
	assert.Contains(t, loaded.Ignore, "templates/")
}

func TestReload(t *testing.T) {
	viper.Reset()
	cfg = nil

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("indexing:\n  exclusions: \"Archive\"\n"), 0644))
	require.NoError(t, Load(configPath))
	require.Equal(t, "Archive", Get().Indexing.Exclusions)

	require.NoError(t, os.WriteFile(configPath, []byte("indexing:\n  exclusions: \"Archive, #private\"\n"), 0644))
	reloaded, err := Reload()
	require.NoError(t, err)
	assert.Equal(t, "Archive, #private", reloaded.Indexing.Exclusions)
	assert.Same(t, reloaded, Get())

	require.NoError(t, os.WriteFile(configPath, []byte("indexing:\n  strategy: sometimes\n"), 0644))
	_, err = Reload()
	assert.Error(t, err)
	assert.Same(t, reloaded, Get())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	cfg = nil

	t.Setenv("VAULTIDX_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("VAULTIDX_INDEXING_STRATEGY", "never")
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	require.NoError(t, Load(""))
	loaded := Get()

	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, StrategyNever, loaded.Indexing.Strategy)
	assert.Equal(t, "test-api-key", loaded.Embeddings.OpenAI.APIKey)
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	viper.Reset()
	cfg = nil

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("indexing:\n  strategy: hourly\n"), 0644))

	err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid indexing strategy")
}

func TestValidatePausePollInterval(t *testing.T) {
	c := DefaultConfig()
	c.Indexing.PausePollInterval = 2 * time.Second
	assert.Error(t, c.Validate())

	c.Indexing.PausePollInterval = 0
	assert.Error(t, c.Validate())
}

func TestCorpusNameFallsBackToRootBase(t *testing.T) {
	c := DefaultConfig()
	c.Corpus.Root = filepath.Join(t.TempDir(), "My Vault")
	assert.Equal(t, "My Vault", c.CorpusName())
}

func TestGet(t *testing.T) {
	cfg = nil

	c1 := Get()
	assert.NotNil(t, c1)

	c2 := Get()
	assert.Same(t, c1, c2)
}
