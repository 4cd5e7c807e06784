// Package cmd defines the ycrawler command line.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ycrawler/internal/app"
	"github.com/JakeFAU/ycrawler/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Poll the seed page and crawl new items",
		Long: `Polls the configured seed page every crawler.poll_interval, queues every
item link not seen before and drains the queue with crawler.concurrency
workers. Runs until interrupted unless --once is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll, drain the queue and exit")
	return cmd
}

func runCrawl(cmd *cobra.Command, once bool) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger

	a, err := app.Build(cmd.Context(), rt.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	if once {
		res, err := a.RunOnce(cmd.Context())
		if err != nil {
			fatalOnInvariant(a, logger, err)
			return err
		}
		if res.SeedErr != nil {
			return fmt.Errorf("seed fetch failed: %w", res.SeedErr)
		}
		stats := a.FrontierStats()
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %d items, %d done, %d pending\n", res.Added, stats.Done, stats.Pending)
		return nil
	}

	if err := a.Run(cmd.Context()); err != nil {
		fatalOnInvariant(a, logger, err)
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("crawl command finished")
	return nil
}

// fatalOnInvariant exits the process when the frontier reports corrupted
// state; no further pass can be trusted.
func fatalOnInvariant(a *app.App, logger *zap.Logger, err error) {
	if !errors.Is(err, crawler.ErrInvariant) {
		return
	}
	_ = a.Close()
	logger.Fatal("frontier invariant violated", zap.Error(err))
}
