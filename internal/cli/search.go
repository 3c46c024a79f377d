package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/vaultidx/internal/store"
	"github.com/nickcecere/vaultidx/internal/ui"
)

var (
	searchLimit    int
	searchLexical  bool
	searchContent  bool
	searchMinScore float64
	searchJSON     bool

	recordJSON bool
	recordRaw  bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed notes",
	Long: `Search the vault index using natural language.

By default the query is embedded and matched by vector similarity. With
--lexical the query is matched against note text instead, which needs no
embedding provider call.

Examples:
  # Semantic search
  vaultidx search "how did the garden do last summer"

  # Keyword search with snippets
  vaultidx search tomatoes --lexical -c

  # Limit results
  vaultidx search "travel plans" -m 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCmd,
}

// recordCmd shows a single indexed record
var recordCmd = &cobra.Command{
	Use:   "record <id>",
	Short: "Show an indexed record by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordCmd,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 10, "maximum number of results")
	searchCmd.Flags().BoolVarP(&searchLexical, "lexical", "l", false, "match note text instead of embeddings")
	searchCmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show content snippets in results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0.0, "minimum similarity score (0-1, semantic only)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	recordCmd.Flags().BoolVar(&recordJSON, "json", false, "output the record as JSON")
	recordCmd.Flags().BoolVar(&recordRaw, "raw", false, "print content without markdown rendering")
}

// searchResult is the JSON shape of a hit.
type searchResult struct {
	ID    string   `json:"id"`
	Path  string   `json:"path"`
	Title string   `json:"title"`
	Score float64  `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	if searchLimit <= 0 {
		searchLimit = 10
	}

	log.Debug("Starting search", "query", query, "limit", searchLimit, "lexical", searchLexical)

	ctx, cancel := signalContext(nil)
	defer cancel()

	e, _, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var hits []store.Hit
	if searchLexical {
		hits, err = e.TextSearch(ctx, query, searchLimit)
	} else {
		hits, err = e.Search(ctx, query, searchLimit)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("search failed: %w", err)
	}

	if !searchLexical && searchMinScore > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= searchMinScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	if searchJSON {
		return outputJSON(hits)
	}
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	displayResults(hits, searchLexical, searchContent)
	return nil
}

// displayResults formats and displays search results.
func displayResults(hits []store.Hit, lexical, showContent bool) {
	fmt.Printf("Found %d results:\n\n", len(hits))

	for i, h := range hits {
		score := ui.FormatScore(h.Score)
		if lexical {
			score = ui.ResultScore.Render(fmt.Sprintf("(score %.2f)", h.Score))
		}

		fmt.Printf("%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FilePath.Render(h.Record.Path),
			score,
		)
		if tags := ui.FormatTags(h.Record.Tags); tags != "" {
			fmt.Printf("    %s\n", tags)
		}
		fmt.Printf("    %s\n", ui.Dim.Render(h.Record.ID))

		if showContent && h.Record.Content != "" {
			fmt.Println(ui.ResultContent.Render(ui.Snippet(h.Record.Content, 200)))
		}
		fmt.Println()
	}
}

// outputJSON outputs results as JSON.
func outputJSON(hits []store.Hit) error {
	out := make([]searchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, searchResult{
			ID:    h.Record.ID,
			Path:  h.Record.Path,
			Title: h.Record.Title,
			Score: h.Score,
			Tags:  h.Record.Tags,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runRecordCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(nil)
	defer cancel()

	e, _, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := e.GetRecordByID(ctx, args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("record not found: %s", args[0])
	}

	if recordJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Println(ui.Header.Render(rec.Title))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Path:"), ui.FilePath.Render(rec.Path))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Model:"), rec.EmbeddingModel)
	fmt.Printf("  %s %s\n", ui.Dim.Render("Modified:"), formatTime(rec.MTime))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Created:"), formatTime(rec.CTime))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Indexed:"), formatTime(rec.CreatedAt))
	if tags := ui.FormatTags(rec.Tags); tags != "" {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Tags:"), tags)
	}
	fmt.Println(ui.HorizontalRule(60))

	if recordRaw || rec.Extension != ".md" {
		fmt.Println(rec.Content)
		return nil
	}

	rendered, err := renderMarkdown(rec.Content)
	if err != nil {
		// Fallback to raw output if rendering fails
		fmt.Println(rec.Content)
		return nil
	}
	fmt.Print(rendered)
	return nil
}

// renderMarkdown renders markdown content using glamour.
func renderMarkdown(content string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}
	return t.Format("Jan 2, 2006 at 15:04")
}
