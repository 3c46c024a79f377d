package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/corpus"
	"github.com/nickcecere/vaultidx/internal/filter"
	"github.com/nickcecere/vaultidx/internal/indexer"
	"github.com/nickcecere/vaultidx/internal/ui"
)

var (
	indexOverwrite bool
	indexDryRun    bool
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed notes changed since the last run",
	Long: `Index the vault for semantic search.

Only notes modified after the newest indexed note are embedded, and records of
deleted notes are removed. A change of embedding model or vector length
rebuilds the whole index.

Press Ctrl+C once to stop after the current note and keep what was indexed,
twice to abort.

Examples:
  # Index changed notes
  vaultidx index

  # Re-embed every note
  vaultidx index --overwrite

  # Preview which notes are eligible
  vaultidx index --dry-run`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexOverwrite, "overwrite", "f", false, "re-embed every note")
	indexCmd.Flags().BoolVarP(&indexDryRun, "dry-run", "d", false, "preview without indexing")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	log.Debug("Starting index",
		"vault", cfg.Corpus.Root,
		"overwrite", indexOverwrite,
		"dry-run", indexDryRun,
	)

	if indexDryRun {
		return runDryRun(cmd.Context(), cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _, err := openEngine(ctx, progressPrinter())
	if err != nil {
		return err
	}
	defer e.Close()

	// First interrupt stops gracefully, the second aborts
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "\nStopping after the current note...")
		e.Cancel()
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()

	fmt.Println(ui.Header.Render("Indexing " + cfg.CorpusName()))
	fmt.Printf("Vault: %s\n\n", cfg.Corpus.Root)

	start := time.Now()
	n, err := e.IndexAll(ctx, indexOverwrite)
	fmt.Fprint(os.Stderr, "\r\033[K")
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println(ui.Warning.Render("Indexing aborted"))
			return nil
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		log.Warn("Failed to get stats", "error", err)
		return nil
	}

	fmt.Println()
	fmt.Printf("  Attempted: %d\n", n)
	fmt.Printf("  Records:   %d\n", stats.Records)
	fmt.Printf("  Duration:  %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// progressPrinter returns a throttled single-line progress display.
func progressPrinter() indexer.ProgressFunc {
	var lastUpdate time.Time
	return func(p indexer.Progress) {
		if !p.Paused && p.Indexed < p.Total && time.Since(lastUpdate) < 100*time.Millisecond {
			return
		}
		lastUpdate = time.Now()

		fmt.Fprint(os.Stderr, "\r\033[K")
		if p.Paused {
			fmt.Fprintf(os.Stderr, "%s %s", ui.FormatProgress(p.Indexed, p.Total, 20), ui.Warning.Render("paused"))
			return
		}
		fmt.Fprintf(os.Stderr, "%s %s", ui.FormatProgress(p.Indexed, p.Total, 20), truncatePath(p.Current, 40))
	}
}

// runDryRun lists notes the filter allows without embedding anything.
func runDryRun(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	accessor, err := newAccessor(cfg)
	if err != nil {
		return err
	}
	docs, err := accessor.ListDocuments(ctx)
	if err != nil {
		return err
	}

	policy := filter.Parse(cfg.Indexing.Inclusions, cfg.Indexing.Exclusions)
	var eligible []corpus.Document
	var totalSize int64
	for _, doc := range docs {
		tags := func() []string {
			meta, _ := accessor.ReadMetadata(ctx, doc.Path)
			return meta.Tags
		}
		if policy.Allows(doc.Path, tags) {
			eligible = append(eligible, doc)
			totalSize += doc.Size
		}
	}

	stats := accessor.Stats()

	fmt.Println(ui.Header.Render("Dry Run - Preview"))
	fmt.Printf("Vault: %s\n\n", accessor.Root())
	fmt.Printf("Eligible notes: %d\n", len(eligible))
	fmt.Printf("Filtered out:   %d\n", len(docs)-len(eligible))
	fmt.Printf("Total size:     %s\n", formatBytes(totalSize))
	fmt.Printf("Skipped:        %d files, %d directories\n", stats.FilesSkipped, stats.DirsSkipped)

	if len(eligible) > 0 {
		fmt.Println("\nFirst 10 notes:")
		for i, d := range eligible {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(eligible)-10)
				break
			}
			fmt.Printf("  %s (%s)\n", d.Path, formatBytes(d.Size))
		}
	}
	return nil
}

// gcCmd removes records of deleted notes
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove records of notes that no longer exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(nil)
		defer cancel()

		e, _, err := openEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		removed, err := e.GarbageCollect(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.Success.Render(fmt.Sprintf("Removed %d stale records", removed)))
		return nil
	},
}

// removeCmd drops individual notes from the index
var removeCmd = &cobra.Command{
	Use:   "remove <path>...",
	Short: "Remove notes from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(nil)
		defer cancel()

		e, accessor, err := openEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		for _, arg := range args {
			p := notePath(accessor, arg)
			if err := e.RemoveDocument(ctx, p); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", ui.FilePath.Render(p))
		}
		return nil
	},
}

// clearCmd discards the whole index
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record of the vault index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(nil)
		defer cancel()

		e, _, err := openEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Clear(ctx); err != nil {
			return err
		}
		fmt.Println(ui.Success.Render("Index cleared"))
		return nil
	},
}

// notePath turns a command-line argument into a vault path. Absolute paths
// and paths relative to the working directory inside the vault are accepted.
func notePath(accessor *corpus.DirAccessor, arg string) string {
	if abs, err := filepath.Abs(arg); err == nil {
		if rel, err := accessor.Rel(abs); err == nil {
			if _, statErr := os.Stat(abs); statErr == nil {
				return rel
			}
		}
	}
	return corpus.Clean(arg)
}

// truncatePath shortens a path for display.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
