package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/corpus"
	"github.com/nickcecere/vaultidx/internal/indexer"
	"github.com/nickcecere/vaultidx/internal/ui"
)

// newAccessor opens the configured vault directory.
func newAccessor(cfg *config.Config) (*corpus.DirAccessor, error) {
	return corpus.NewDirAccessor(corpus.WalkOptions{
		Root:           cfg.Corpus.Root,
		MaxFileSize:    int64(cfg.Corpus.MaxFileSize),
		IgnorePatterns: cfg.Ignore,
		UseGitignore:   true,
		Extensions:     cfg.Corpus.Extensions,
	})
}

// openEngine starts an engine over the configured vault and waits for it to
// load. The caller closes the engine.
func openEngine(ctx context.Context, onProgress indexer.ProgressFunc) (*indexer.Engine, *corpus.DirAccessor, error) {
	cfg := config.Get()

	accessor, err := newAccessor(cfg)
	if err != nil {
		return nil, nil, err
	}

	e := indexer.New(indexer.Options{
		Config:     cfg,
		Corpus:     accessor,
		OnProgress: onProgress,
		OnNotice:   printNotice,
	})

	select {
	case <-e.Ready():
	case <-ctx.Done():
		_ = e.Close()
		return nil, nil, ctx.Err()
	}
	if e.Disabled() {
		_ = e.Close()
		return nil, nil, fmt.Errorf("indexing is unavailable, check the embeddings configuration")
	}
	return e, accessor, nil
}

// printNotice renders an engine notice on stderr.
func printNotice(n indexer.Notice) {
	style := ui.Success
	switch n.Kind {
	case indexer.NoticeUpToDate, indexer.NoticeRebuild:
		style = ui.Dim
	case indexer.NoticeCancelled, indexer.NoticeRateLimited, indexer.NoticeCompletedWithErrors:
		style = ui.Warning
	case indexer.NoticeUnavailable, indexer.NoticeProviderError, indexer.NoticeSaveFailed:
		style = ui.Error
	}

	fmt.Fprint(os.Stderr, "\r\033[K")
	fmt.Fprintln(os.Stderr, style.Render(n.Message))

	const maxShown = 10
	for i, e := range n.Errors {
		if i == maxShown {
			fmt.Fprintln(os.Stderr, ui.Dim.Render(fmt.Sprintf("  ... and %d more", len(n.Errors)-maxShown)))
			break
		}
		fmt.Fprintln(os.Stderr, ui.Dim.Render("  "+e))
	}
}

// signalContext returns a context cancelled on the first SIGINT or SIGTERM.
// onSignal, if set, runs first.
func signalContext(onSignal func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if onSignal != nil {
				onSignal()
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
