package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatbridge/internal/config"
	"chatbridge/internal/gateway"
	"chatbridge/internal/provider"
	providerfactory "chatbridge/internal/provider/factory"
	"chatbridge/internal/router"
	"chatbridge/internal/server"
	"chatbridge/internal/tokens"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().IntP("port", "p", 0, "override server port from configuration")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := setupLogging(verbose)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	overridePort, _ := cmd.Flags().GetInt("port")
	if overridePort != 0 {
		if overridePort < 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	registry, err := providerfactory.NewRegistry(cfg)
	if err != nil {
		return err
	}

	gw, err := gateway.New(router.FromConfig(cfg), provider.NewDispatcher(registry, logger), logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, gw, tokens.NewCounter(logger), logger)
	if err != nil {
		return err
	}

	printStartupBanner(cfg)
	return srv.Run(cmd.Context())
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func printStartupBanner(cfg config.Config) {
	host := "127.0.0.1"
	fmt.Println()
	color.Green("%s v%s ready", AppName, Version)
	fmt.Printf("Listening on http://%s:%d\n", host, cfg.Server.Port)
	color.Cyan("Backends:")
	for _, backend := range cfg.Backends {
		fmt.Printf("  %-12s %-9s %s\n", backend.Name, backend.APIStyle, backend.BaseURL)
	}
	fmt.Printf("Default backend: %s (%d routes)\n", cfg.DefaultBackend, len(cfg.Routes))
	color.Cyan("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  POST /v1/messages")
	fmt.Println("  POST /v1/messages/count_tokens")
	fmt.Println()
}
