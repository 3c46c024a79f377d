// Package config handles configuration loading and validation for vaultidx.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the complete vaultidx configuration.
type Config struct {
	Corpus     CorpusConfig     `mapstructure:"corpus"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Indexing   IndexingConfig   `mapstructure:"indexing"`
	Ignore     []string         `mapstructure:"ignore"`
}

// CorpusConfig describes the directory of documents being indexed.
type CorpusConfig struct {
	Root        string   `mapstructure:"root"`
	Name        string   `mapstructure:"name"`
	Extensions  []string `mapstructure:"extensions"`
	MaxFileSize int      `mapstructure:"max_file_size"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider string            `mapstructure:"provider"`
	Ollama   OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI   OpenAIEmbedConfig `mapstructure:"openai"`

	// RequestsPerSecond throttles provider calls. Zero disables throttling.
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	QueryCacheSize    int           `mapstructure:"query_cache_size"`
	QueryCacheTTL     time.Duration `mapstructure:"query_cache_ttl"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// StorageConfig configures where index snapshots live.
type StorageConfig struct {
	Dir      string `mapstructure:"dir"`
	Autosave string `mapstructure:"autosave"`
}

// IndexingConfig configures the indexing process.
type IndexingConfig struct {
	Strategy          string        `mapstructure:"strategy"`
	Inclusions        string        `mapstructure:"inclusions"`
	Exclusions        string        `mapstructure:"exclusions"`
	DebounceDelay     time.Duration `mapstructure:"debounce_delay"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval"`
	FinalizeDelay     time.Duration `mapstructure:"finalize_delay"`
}

// Indexing strategies.
const (
	StrategyStartup = "startup"
	StrategyManual  = "manual"
	StrategyNever   = "never"
)

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Root:        DefaultCorpusRoot,
			Extensions:  DefaultExtensions(),
			MaxFileSize: DefaultMaxFileSize,
		},
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
			QueryCacheSize:    DefaultQueryCacheSize,
			QueryCacheTTL:     DefaultQueryCacheTTL,
		},
		Storage: StorageConfig{
			Dir:      DefaultStorageDir(),
			Autosave: DefaultAutosave,
		},
		Indexing: IndexingConfig{
			Strategy:          StrategyStartup,
			DebounceDelay:     DefaultDebounceDelay,
			PausePollInterval: DefaultPausePollInterval,
			FinalizeDelay:     DefaultFinalizeDelay,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// A .vaultidxrc.yaml in the current directory or a parent wins
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("VAULTIDX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	loadAPIKeysFromEnv()

	if err := cfg.Validate(); err != nil {
		return err
	}

	return nil
}

// Reload re-reads the config file loaded by Load and replaces the current
// configuration. An invalid file leaves the current configuration in place.
func Reload() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	next := &Config{}
	if err := viper.Unmarshal(next); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	cfg = next
	loadAPIKeysFromEnv()
	return cfg, nil
}

// Watch reloads the configuration whenever the config file changes and
// passes the result to onChange. It does nothing without a config file.
func Watch(onChange func(*Config)) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		next, err := Reload()
		if err != nil {
			log.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		log.Debug("Config reloaded", "file", e.Name)
		onChange(next)
	})
	viper.WatchConfig()
}

// Validate checks values that would otherwise fail deep inside the engine.
func (c *Config) Validate() error {
	switch c.Indexing.Strategy {
	case StrategyStartup, StrategyManual, StrategyNever:
	default:
		return fmt.Errorf("invalid indexing strategy %q (want %s, %s or %s)",
			c.Indexing.Strategy, StrategyStartup, StrategyManual, StrategyNever)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must not be negative")
	}
	if c.Indexing.PausePollInterval <= 0 || c.Indexing.PausePollInterval >= time.Second {
		return fmt.Errorf("indexing.pause_poll_interval must be between 0 and 1s, got %s", c.Indexing.PausePollInterval)
	}
	return nil
}

// CorpusName returns the configured corpus identity, falling back to the
// base name of the corpus root.
func (c *Config) CorpusName() string {
	if c.Corpus.Name != "" {
		return c.Corpus.Name
	}
	root, err := filepath.Abs(c.Corpus.Root)
	if err != nil {
		return filepath.Base(c.Corpus.Root)
	}
	return filepath.Base(root)
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Corpus
	viper.SetDefault("corpus.root", DefaultCorpusRoot)
	viper.SetDefault("corpus.name", "")
	viper.SetDefault("corpus.extensions", DefaultExtensions())
	viper.SetDefault("corpus.max_file_size", DefaultMaxFileSize)

	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)
	viper.SetDefault("embeddings.requests_per_second", DefaultRequestsPerSecond)
	viper.SetDefault("embeddings.burst", DefaultBurst)
	viper.SetDefault("embeddings.query_cache_size", DefaultQueryCacheSize)
	viper.SetDefault("embeddings.query_cache_ttl", DefaultQueryCacheTTL)

	// Storage
	viper.SetDefault("storage.dir", DefaultStorageDir())
	viper.SetDefault("storage.autosave", DefaultAutosave)

	// Indexing
	viper.SetDefault("indexing.strategy", StrategyStartup)
	viper.SetDefault("indexing.inclusions", "")
	viper.SetDefault("indexing.exclusions", "")
	viper.SetDefault("indexing.debounce_delay", DefaultDebounceDelay)
	viper.SetDefault("indexing.pause_poll_interval", DefaultPausePollInterval)
	viper.SetDefault("indexing.finalize_delay", DefaultFinalizeDelay)

	viper.SetDefault("ignore", DefaultIgnorePatterns())
}

// findRCFile searches for .vaultidxrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, RCFileName)
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
