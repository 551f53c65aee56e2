package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/server"
	"github.com/JakeFAU/sitecrawler/internal/validator"
)

// newCrawlCmd creates the 'crawl' subcommand, which crawls one site and
// prints its events as JSON lines.
func newCrawlCmd() *cobra.Command {
	var budgetFlag string
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawls one site and prints progress events to stdout",
		Long: `Validates the start URL, crawls the site until the page budget is spent
or no links remain, and writes each progress, result, error and complete
event as one JSON object per line. Ctrl-C cancels the crawl; the final line
is always the complete event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], budgetFlag)
		},
	}
	cmd.Flags().StringVar(&budgetFlag, "budget", "", `page budget: a positive integer or "unbounded" (default from config)`)
	return cmd
}

func runCrawl(cmd *cobra.Command, rawURL, budgetFlag string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	budget, err := e.cfg.Budget()
	if err != nil {
		return err
	}
	if budgetFlag != "" {
		if budget, err = crawler.ParseBudget(budgetFlag); err != nil {
			return fmt.Errorf("--budget: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := server.NewCrawlStack(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	req, err := stack.Validator.Validate(ctx, validator.StartRequest{URL: rawURL, PageBudget: budget})
	if err != nil {
		return err
	}
	jobID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	job, err := crawler.NewJob(jobID, req.URL, req.PageBudget, system.New().Now())
	if err != nil {
		return err
	}

	report, err := stack.Engine.Run(ctx, job, lineEmitter(cmd.OutOrStdout()))
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	e.logger.Info("crawl command finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(report.Status)),
		zap.Int("successful", report.Stats.Successful),
	)
	return nil
}

// lineEmitter writes each event frame as one JSON line. A failed write means
// the reader went away, which cancels the crawl.
func lineEmitter(w io.Writer) progress.Emitter {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return progress.EmitterFunc(func(_ context.Context, evt progress.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(evt.Frame()); err != nil {
			return fmt.Errorf("write %s line: %w: %w", evt.Type, crawler.ErrClientDisconnect, err)
		}
		return nil
	})
}
