package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/camctl/internal/auth"
	"github.com/danmuck/camctl/internal/jobs"
	"github.com/danmuck/camctl/internal/observability"
	"github.com/danmuck/camctl/internal/plugins"
	"github.com/danmuck/camctl/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const drainTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the installer API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := observability.InitLogger(cfg.ID)
			log.Logger = logger

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			queue := jobs.New(jobs.Config{
				Executor: a.installer,
				Size:     cfg.QueueSize,
				History:  cfg.JobHistory,
				Hub:      a.hub,
			})
			registry := plugins.NewRegistry()
			registry.Register(plugins.NewStreamer(a.installer, queue))

			var guard auth.Validator
			if cfg.APIKey != "" {
				guard = auth.StaticKey{Key: cfg.APIKey}
			} else {
				log.Warn().Msg("api_key is empty; the API is unauthenticated")
			}
			srv := server.New(server.Config{
				ID:          cfg.ID,
				Addr:        cfg.Addr,
				CORSOrigins: cfg.CorsOrigins,
				Registry:    registry,
				Hub:         a.hub,
				Auth:        guard,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			serveErr := srv.Serve(ctx)

			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if err := queue.Close(drainCtx); err != nil {
				log.Warn().Err(err).Msg("job queue did not drain")
			}
			return serveErr
		},
	}
}
