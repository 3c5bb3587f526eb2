// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Corphon/BugReportConstructor/internal/app"
	"github.com/Corphon/BugReportConstructor/internal/config"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath string
	port       string
	debug      bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts serverOptions

	root := &cobra.Command{
		Use:   "brc-server",
		Short: "Serve saved blocks and output formats for the bug report constructor",
		Long: `brc-server stores each user's saved blocks and output formats and renders
bug report drafts over HTTP.

Settings are read with the following precedence:
  CLI flags > BRC_* environment variables > brc.yaml > defaults`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ./brc.yaml)")
	flags.StringVar(&opts.port, "port", "", "listen port (overrides port)")
	flags.BoolVar(&opts.debug, "debug", false, "debug logging (overrides debug_mode)")
	return root
}

func run(ctx context.Context, opts serverOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.port != "" {
		cfg.Port = opts.port
	}
	if opts.debug {
		cfg.DebugMode = true
	}

	logger, err := utils.NewLogger(cfg.DebugMode, cfg.LogDir)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.SaveSnapshot(); err != nil {
		logger.Warn("failed to write config snapshot", zap.Error(err))
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()

	logger.Info("starting bug report constructor server",
		zap.String("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("store_backend", cfg.StoreBackend))

	if err := a.Run(ctx, ":"+cfg.Port); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
