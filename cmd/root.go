package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const (
	AppName = "chatbridge"
	Version = "0.1.0"
)

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         "Chat completion gateway bridging OpenAI and Anthropic schemas",
		Long:          `chatbridge accepts OpenAI chat/completions and Anthropic messages requests, routes each model to a configured backend and translates between the two schemas when the backend speaks the other one.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringP("config", "c", "", "path to YAML configuration file (built-in defaults when empty)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRouteCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
