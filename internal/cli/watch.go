package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/indexer"
	"github.com/nickcecere/vaultidx/internal/ui"
	"github.com/nickcecere/vaultidx/internal/watcher"
)

var watchNoInitial bool

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index in sync with edits",
	Long: `Watch the vault and re-embed notes as they are edited.

With the "startup" strategy an incremental index runs first. Each edit drops
the note's record at once and re-embeds it after edits have been quiet for
indexing.debounce_delay. Unsaved changes are written on the autosave schedule
and on exit. Changes to indexing.inclusions and indexing.exclusions in the
config file apply to later edits without a restart.

While watching, these commands are read from stdin:
  pause, resume, cancel   control a running index
  reindex [--overwrite]   start an incremental (or full) index
  gc                      remove records of deleted notes
  status                  print engine state
  quit                    stop watching`,
	Args: cobra.NoArgs,
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip the initial index even with the startup strategy")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	ui.SetTimestamps(true)

	ctx, cancel := signalContext(func() { fmt.Println("\nShutting down...") })
	defer cancel()

	e, accessor, err := openEngine(ctx, progressPrinter())
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Error("Failed to save index", "error", err)
		}
	}()

	if cfg.Indexing.Strategy == config.StrategyNever {
		fmt.Println(ui.Warning.Render("Indexing strategy is \"never\"; edits are not indexed."))
	}

	if cfg.Indexing.Strategy == config.StrategyStartup && !watchNoInitial {
		go startRun(ctx, e, false)
	}

	config.Watch(func(c *config.Config) {
		e.UpdateFilter(c.Indexing.Inclusions, c.Indexing.Exclusions)
		log.Info("Updated indexing filters", "inclusions", c.Indexing.Inclusions, "exclusions", c.Indexing.Exclusions)
	})

	w := watcher.New(accessor, e, watcher.WithEventCallback(func(event, path string) {
		log.Debug("File event", "event", event, "path", path)
	}))

	go readCommands(ctx, cancel, e)

	fmt.Println(ui.Header.Render("Watching for Changes"))
	fmt.Printf("Vault: %s\n", accessor.Root())
	fmt.Println("Type 'quit' or press Ctrl+C to stop.")
	fmt.Println()

	err = w.Start(ctx, nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startRun runs IndexAll in the background of the watch loop.
func startRun(ctx context.Context, e *indexer.Engine, overwrite bool) {
	if _, err := e.IndexAll(ctx, overwrite); err != nil && ctx.Err() == nil {
		log.Warn("Indexing failed", "error", err)
	}
}

// readCommands handles interactive control commands from stdin.
func readCommands(ctx context.Context, quit context.CancelFunc, e *indexer.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "pause":
			e.Pause()
		case "resume":
			e.Resume()
		case "cancel":
			e.Cancel()
		case "reindex":
			if e.Running() {
				fmt.Println(ui.Warning.Render("An index run is already in progress"))
				continue
			}
			go startRun(ctx, e, len(fields) > 1 && fields[1] == "--overwrite")
		case "gc":
			go func() {
				removed, err := e.GarbageCollect(ctx)
				if err != nil {
					log.Warn("Garbage collection failed", "error", err)
					return
				}
				fmt.Println(ui.Success.Render(fmt.Sprintf("Removed %d stale records", removed)))
			}()
		case "status":
			printStats(ctx, e)
		case "quit", "exit":
			quit()
			return
		default:
			fmt.Println(ui.Dim.Render("Unknown command: " + fields[0]))
		}
	}
}
