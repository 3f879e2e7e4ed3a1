// cmd/library/serve.go
package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"libraryhub/internal/relay"
	"libraryhub/internal/server"
	"libraryhub/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var withRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()

			shutdown, err := telemetry.Setup(ctx, a.cfg.ServiceName, a.cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					a.logger.Warn().Err(err).Msg("failed to flush telemetry")
				}
			}()

			srv := server.New(server.Services{
				Catalog:     a.catalog,
				Members:     a.members,
				Circulation: a.circulation,
				Reports:     a.reports,
			},
				server.WithLogger(a.logger),
				server.WithCORSOrigins(a.cfg.CORSOrigins...),
				server.WithHealthCheck(a.db),
			)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx, a.cfg.Addr()) })
			g.Go(func() error {
				sweepOverdue(ctx, a)
				return nil
			})
			if withRelay && a.cfg.RabbitURL != "" {
				pub, err := relay.DialAMQP(a.cfg.RabbitURL, a.cfg.RelayExchange)
				if err != nil {
					a.logger.Warn().Err(err).Msg("broker unavailable, events will not be relayed")
				} else {
					defer pub.Close()
					r := relay.New(a.db, a.events, pub,
						relay.WithLogger(a.logger.With().Str("component", "relay").Logger()),
						relay.WithInterval(a.cfg.RelayInterval))
					g.Go(func() error { return r.Run(ctx) })
				}
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", true, "forward events to RABBITMQ_URL when it is set")
	return cmd
}

// sweepOverdue refreshes the stored overdue flags until ctx is done.
func sweepOverdue(ctx context.Context, a *app) {
	interval := a.cfg.OverdueSweepInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := a.circulation.SyncOverdueStatus(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			a.logger.Error().Err(err).Msg("overdue sweep failed")
		case n > 0:
			a.logger.Info().Int("issues", n).Msg("marked issues overdue")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
