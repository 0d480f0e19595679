package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/clanrank/internal/adapters/http/api"
	app "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/pkg/logger"
)

const serviceMetricsInterval = 5 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and live notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Addr = addr
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config addr)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	log := logger.Get()

	auth, err := api.ParseTokens(c.cfg.AdminTokens)
	if err != nil {
		return fmt.Errorf("admin_tokens: %w", err)
	}
	if len(c.cfg.AdminTokens) == 0 {
		log.Warn(ctx, "no admin_tokens configured; the API is read-only")
	}

	svc, err := c.openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop()

	go startServiceMetricsUpdater(ctx, svc)

	srv := api.NewServer(svc,
		api.WithAuthenticator(auth),
		api.WithAllowedOrigins(c.cfg.AllowedOrigins),
		api.WithMaxLeaderboardLimit(c.cfg.MaxListSize),
		api.WithLogger(log.Named("http")),
	)
	if err := srv.ListenAndServe(ctx, c.cfg.Addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info(ctx, "server stopped")
	return nil
}

// startServiceMetricsUpdater refreshes gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats refreshes the store record gauge as a side effect.
			_ = svc.GetStats()
		}
	}
}
