package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	app "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/internal/config"
	"github.com/okian/clanrank/pkg/logger"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by all subcommands.
type cli struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "clanrank",
		Short: "Ranked list service with manual reordering",
		Long: `clanrank keeps an ordered list of players and lets admins rearrange it.
A committed order is written back as evenly spaced rank values, one row at
a time, and other admin screens are told to reload.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context(), cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "YAML config file (defaults to $"+config.EnvConfigFile+")")

	root.AddCommand(
		c.serveCmd(),
		c.topCmd(),
		c.moveCmd(),
		c.reorderCmd(),
		c.seedCmd(),
	)
	return root
}

// setup loads configuration and initializes logging. Logs go to logOut so
// command output on stdout stays clean.
func (c *cli) setup(ctx context.Context, logOut io.Writer) error {
	path := c.cfgFile
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c.cfg = cfg

	if err := logger.InitWithFormat(cfg.LogFormat, logOut); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// openService starts a service configured from the loaded config.
func (c *cli) openService(ctx context.Context) (*app.Service, error) {
	opts := append(app.OptionsFromConfig(c.cfg), app.WithLogger(logger.Get()))
	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting service: %w", err)
	}
	return svc, nil
}
