package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/app"
)

func newLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "Discover detail links from the listing index",
		Long: `Walks every configured bucket page by page, appending item links to the
link file. Resumes from the pagination checkpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stop := startOperator(cmd.Context(), a)
			defer stop()
			return runLinks(cmd, a)
		},
	}
}

func newDetailsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "details",
		Short: "Extract records from discovered links",
		Long: `Visits every link after the detail checkpoint, extracts a record and merges
it into the result file. Records whose name is already present are ignored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stop := startOperator(cmd.Context(), a)
			defer stop()
			return runDetails(cmd, a, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "process at most this many links (0 uses details.limit)")
	return cmd
}

func newRunCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run link discovery, then detail extraction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stop := startOperator(cmd.Context(), a)
			defer stop()
			if err := runLinks(cmd, a); err != nil {
				return err
			}
			if cmd.Context().Err() != nil {
				return nil
			}
			return runDetails(cmd, a, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "process at most this many links (0 uses details.limit)")
	return cmd
}

func runLinks(cmd *cobra.Command, a *app.App) error {
	crawler, err := a.Discovery()
	if err != nil {
		return fmt.Errorf("init discovery: %w", err)
	}
	summary, err := crawler.Run(cmd.Context())
	if err != nil {
		if interrupted(a, err) {
			return nil
		}
		return fmt.Errorf("run discovery: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "links: %d pages, %d links, %d failed pages, %d committed links, complete=%t\n",
		summary.Pages, summary.Links, summary.FailedPages, summary.Cursor.CommittedLinks, summary.Cursor.Complete)
	return nil
}

func runDetails(cmd *cobra.Command, a *app.App, limit int) error {
	pipe, err := a.Pipeline(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	summary, err := pipe.Run(cmd.Context())
	if err != nil {
		if interrupted(a, err) {
			return nil
		}
		return fmt.Errorf("run pipeline: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "details: %d processed, %d new, %d duplicate, %d skipped, %d remaining\n",
		summary.Processed, summary.Inserted, summary.Duplicates, summary.Skipped, summary.Remaining)
	return nil
}

// startOperator serves /healthz, /metrics and /v1/status while a crawl runs,
// when metrics.enabled is set. The returned func stops the server.
func startOperator(ctx context.Context, a *app.App) func() {
	mc := a.Config().Metrics
	if !mc.Enabled {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		server := api.NewServer(a.Status, a.Logger())
		if err := server.ListenAndServe(ctx, mc.Addr); err != nil {
			a.Logger().Error("operator endpoint failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
