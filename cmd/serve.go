package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecrawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP crawl service",
		Long: `Starts the HTTP API: streamed crawls on /v1/crawl/stream, queued jobs
on /v1/jobs, plus health and metrics endpoints. SIGINT or SIGTERM shuts the
service down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
