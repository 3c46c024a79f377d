package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/indexer"
	"github.com/nickcecere/vaultidx/internal/store"
	"github.com/nickcecere/vaultidx/internal/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status and statistics",
	Long: `Display information about the vault index including:
- Number of indexed notes
- Embedding model and vector length
- Newest indexed modification time
- Snapshot location

The snapshot is read directly; the embedding provider is not contacted.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	path := store.PathFor(cfg.Storage.Dir, cfg.CorpusName())

	log.Debug("Showing status", "vault", cfg.Corpus.Root, "snapshot", path)

	fmt.Println(ui.Header.Render("Index Status"))
	fmt.Println()
	fmt.Printf("%s %s\n", ui.Highlight.Render("Vault:"), ui.Bold.Render(cfg.CorpusName()))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Path:"), cfg.Corpus.Root)
	if _, err := os.Stat(cfg.Corpus.Root); os.IsNotExist(err) {
		fmt.Printf("  %s\n", ui.Warning.Render("(path no longer exists)"))
	}
	fmt.Printf("  %s %s\n", ui.Dim.Render("Snapshot:"), path)

	idx, err := store.Open(path)
	if err != nil {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), ui.Warning.Render("not indexed yet"))
		fmt.Println()
		fmt.Println("Run 'vaultidx index' to create it.")
		return nil
	}
	defer idx.Close()

	schema := idx.Schema()
	watermark, _ := idx.MaxMTime()
	fmt.Printf("  %s %s\n", ui.Dim.Render("Model:"), schema.Model)
	fmt.Printf("  %s %d\n", ui.Dim.Render("Dimensions:"), schema.Dimensions)
	fmt.Printf("  %s %d notes\n", ui.Dim.Render("Indexed:"), idx.Len())
	fmt.Printf("  %s %s\n", ui.Dim.Render("Newest note:"), formatTime(watermark))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), healthStatus(idx.Len()))

	fmt.Println()
	fmt.Println(ui.Dim.Render("Configuration:"))
	fmt.Printf("  Embedding Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Strategy: %s\n", cfg.Indexing.Strategy)
	return nil
}

// printStats renders live engine statistics.
func printStats(ctx context.Context, e *indexer.Engine) {
	s, err := e.Stats(ctx)
	if err != nil {
		log.Warn("Failed to get stats", "error", err)
		return
	}

	state := "idle"
	switch {
	case s.Disabled:
		state = "disabled"
	case s.Paused:
		state = "paused"
	case s.Running:
		state = "indexing"
	}

	fmt.Printf("%s %s | %d notes | %s | pending edits: %d",
		ui.Dim.Render("State:"), state, s.Records, s.Model, s.PendingEdits)
	if s.Unsaved {
		fmt.Print(ui.Warning.Render(" | unsaved"))
	}
	fmt.Println()
}

func healthStatus(records int) string {
	if records == 0 {
		return ui.Warning.Render("empty (no notes indexed)")
	}
	return ui.Success.Render("healthy")
}
