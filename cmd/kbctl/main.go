// Command kbctl operates the knowledge base from a shell: add files, run
// ingestion in-process, inspect processing state and ask questions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/studykb/internal/app"
	"github.com/markdave123-py/studykb/internal/config"
	"github.com/markdave123-py/studykb/internal/logger"
)

// appLoader builds the application graph for one command run.
type appLoader func(ctx context.Context) (*app.App, error)

func loadApp(ctx context.Context) (*app.App, error) {
	cfg := config.LoadConfig()
	level := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	lg, err := logger.New(logger.Config{Level: level, Encoding: "console", File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	return app.NewApp(ctx, cfg, lg)
}

func newRootCmd(load appLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "kbctl",
		Short:         "Operate the study knowledge base",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(addCmd(load))
	root.AddCommand(ingestCmd(load))
	root.AddCommand(statusCmd(load))
	root.AddCommand(askCmd(load))
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(loadApp).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
