// cmd/brc/main.go
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

	"github.com/Corphon/BugReportConstructor/internal/client"
	"github.com/Corphon/BugReportConstructor/internal/config"
)

// Version set via ldflags during build
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	serverURL  string
	userID     string
	token      string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger

	stdin  io.Reader
	stdout io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdin: stdin, stdout: stdout}

	root := &cobra.Command{
		Use:     "brc",
		Short:   "Compose bug reports from saved blocks and output formats",
		Version: version,
		Long: `brc renders bug report drafts and manages the saved blocks and output
formats kept by a brc server.

Settings are read with the following precedence:
  CLI flags > BRC_* environment variables > brc.yaml > defaults`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./brc.yaml)")
	flags.StringVar(&c.serverURL, "server", "", "server URL (overrides server_url)")
	flags.StringVar(&c.userID, "user", "", "user id sent as X-User-ID (overrides user_id)")
	flags.StringVar(&c.token, "token", "", "bearer token (overrides token)")
	flags.BoolVar(&c.debug, "debug", false, "log to stderr")

	root.AddCommand(
		newRenderCmd(c),
		newFieldsCmd(c),
		newBlocksCmd(c),
		newFormatsCmd(c),
		newTokenCmd(c),
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.serverURL != "" {
		cfg.ServerURL = c.serverURL
	}
	if c.userID != "" {
		cfg.UserID = c.userID
	}
	if c.token != "" {
		cfg.Token = c.token
	}
	c.cfg = cfg

	c.logger = zap.NewNop()
	if c.debug || cfg.DebugMode {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		c.logger = logger.Named("brc")
	}
	return nil
}

// client returns an HTTP client for the configured server.
func (c *cli) client() *client.Client {
	opts := []client.Option{}
	if c.cfg.UserID != "" {
		opts = append(opts, client.WithUser(c.cfg.UserID))
	}
	if c.cfg.Token != "" {
		opts = append(opts, client.WithToken(c.cfg.Token))
	}
	return client.New(c.cfg.ServerURL, opts...)
}
