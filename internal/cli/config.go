package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/store"
	"github.com/nickcecere/vaultidx/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  vaultidx config

  # Show config file paths
  vaultidx config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  %s (searched from cwd upward)\n", config.RCFileName)
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Snapshot:      %s\n", store.PathFor(cfg.Storage.Dir, cfg.CorpusName()))
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Vault:"))
	fmt.Printf("  Root: %s\n", cfg.Corpus.Root)
	fmt.Printf("  Name: %s\n", cfg.CorpusName())
	fmt.Printf("  Extensions: %v\n", cfg.Corpus.Extensions)
	fmt.Printf("  Max File Size: %d bytes\n", cfg.Corpus.MaxFileSize)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Printf("  Requests/second: %g (burst %d)\n", cfg.Embeddings.RequestsPerSecond, cfg.Embeddings.Burst)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Indexing:"))
	fmt.Printf("  Strategy: %s\n", cfg.Indexing.Strategy)
	if cfg.Indexing.Inclusions != "" {
		fmt.Printf("  Inclusions: %s\n", cfg.Indexing.Inclusions)
	}
	if cfg.Indexing.Exclusions != "" {
		fmt.Printf("  Exclusions: %s\n", cfg.Indexing.Exclusions)
	}
	fmt.Printf("  Debounce: %s\n", cfg.Indexing.DebounceDelay)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Storage:"))
	fmt.Printf("  Directory: %s\n", cfg.Storage.Dir)
	fmt.Printf("  Autosave: %s\n", cfg.Storage.Autosave)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ignore Patterns:"))
	fmt.Printf("  %d patterns configured\n", len(cfg.Ignore))

	return nil
}
