// Command lawgpt is the command-line client for the retrieval engine: ask
// questions, ingest files and manage case and statute records.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lawgpt/lawgpt/engine/app"
	"github.com/lawgpt/lawgpt/pkg/config"
)

// buildFunc creates the engine for a command run.
type buildFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error)

type cli struct {
	configPath string
	envFile    string
	verbose    bool

	build buildFunc
	app   *app.App
}

// newRootCmd returns the command tree and the cli that owns the engine.
// Call cli.close after Execute; PersistentPostRunE does not run when a
// command fails.
func newRootCmd(build buildFunc) (*cobra.Command, *cli) {
	c := &cli{build: build}
	root := &cobra.Command{
		Use:           "lawgpt",
		Short:         "Legal research assistant over your documents and case law",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return c.close(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "lawgpt.yaml", "path to YAML config")
	root.PersistentFlags().StringVar(&c.envFile, "env", ".env", "optional .env file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		c.queryCmd(),
		c.ingestCmd(),
		c.similarCmd(),
		c.addRecordsCmd(),
	)
	return root, c
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return err
	}
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	c.app, err = c.build(cmd.Context(), cfg, logger)
	return err
}

func (c *cli) close(ctx context.Context) error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close(ctx)
	c.app = nil
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, c := newRootCmd(func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger)
	})
	root.SetOut(os.Stdout)
	err := root.ExecuteContext(ctx)
	if cerr := c.close(context.Background()); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
