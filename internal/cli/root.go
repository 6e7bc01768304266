// Package cli holds the agentdesk command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentdesk/internal/app"
	"agentdesk/internal/config"
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentdesk",
		Short: "Customer interaction orchestration",
		Long: `agentdesk ingests customer interactions from chat, email and voice,
classifies their intent, runs automated playbooks and escalates to a
ticketing system when automation cannot resolve the request.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				return os.Setenv("CONFIG_PATH", path)
			}
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "path to config.yaml (overrides CONFIG_PATH)")

	root.AddCommand(ServeCmd())
	root.AddCommand(ClassifyCmd())
	root.AddCommand(TicketsCmd())
	root.AddCommand(PollCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildApp loads configuration and wires the application for one command.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	a.Manager.Shutdown()
	if err := a.Close(); err != nil {
		a.Logger.Warn("closing resources", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
