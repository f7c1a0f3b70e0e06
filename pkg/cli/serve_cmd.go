package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lakerun/internal/api"
	"lakerun/internal/db/repository"
	"lakerun/internal/pipeline"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [dir]",
		Short: "Run the scheduler and status API",
		Long:  "Schedules pipeline runs per the declared cron expression and serves the read-only status API until interrupted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(dirArg(args), *envFile)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := pipeline.NewScheduler(eng.logger)
			if err := sched.Add(eng.runner); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			// The status API reads through the read pool; commits stay on
			// the single-connection write pool.
			handler := api.NewHandler(eng.def,
				repository.NewStateRepo(eng.readDB),
				repository.NewRunRepo(eng.readDB),
				eng.logger)
			srv := &http.Server{
				Addr: eng.cfg.ListenAddr,
				Handler: handler.Router(api.Options{
					CORSAllowedOrigins: eng.cfg.CORSAllowedOrigins,
					RateLimitRPS:       eng.cfg.RateLimitRPS,
					RateLimitBurst:     eng.cfg.RateLimitBurst,
				}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				eng.logger.Info("status api listening",
					"addr", eng.cfg.ListenAddr, "pipeline", eng.def.Name, "schedule", eng.def.Schedule)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			eng.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
