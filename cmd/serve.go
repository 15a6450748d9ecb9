package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/autoprice/internal/api"
	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/monitoring"
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator HTTP API",
	Long:  "Serves the enforcement, governance and audit API. With --watch it also runs the scheduled enforce, tuning, evolution and alert passes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var checker *monitoring.Checker
		if serveWatch {
			jobs, err := schedulerJobs(env, cfg.Monitoring)
			if err != nil {
				return err
			}
			checker = monitoring.NewChecker(env.Collector, env.Alerter, cfg.Monitoring, jobs...)
		}

		srv := api.NewServer(env.APIDeps(), cfg.Server.AllowedOrigins)
		port := resolvePort(servePort, cfg.Server.Port)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, srv, port)
		})
		if checker != nil {
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the scheduled enforce, tuning, evolution and alert passes without the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := schedulerJobs(env, cfg.Monitoring)
		if err != nil {
			return err
		}
		monitoring.NewChecker(env.Collector, env.Alerter, cfg.Monitoring, jobs...).Run(ctx)
		return nil
	},
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves h until ctx is cancelled, then shuts down gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

// schedulerJobs builds the periodic passes. A non-positive interval disables
// a pass.
func schedulerJobs(env *engineEnv, mc config.MonitoringConfig) ([]monitoring.Job, error) {
	mode, err := parseModeFlag(mc.EnforceMode, model.ModeAuto.String())
	if err != nil {
		return nil, eris.Wrap(err, "monitoring.enforce_mode")
	}

	return []monitoring.Job{
		{
			Name:     "enforce",
			Interval: time.Duration(mc.EnforceIntervalSecs) * time.Second,
			Run: func(ctx context.Context) error {
				summary, err := env.Enforcer.ProcessRecommendations(ctx, mode, 0)
				if summary != nil && summary.Processed > 0 {
					zap.L().Info("scheduled enforce pass",
						zap.Stringer("mode", mode),
						zap.Int("processed", summary.Processed),
						zap.Int("applied", summary.Applied),
						zap.Int("rejected", summary.Rejected),
						zap.Int("failed", summary.Failed),
						zap.Int("deferred", summary.Deferred),
					)
				}
				return err
			},
		},
		{
			Name:     "tuning",
			Interval: time.Duration(mc.TuningIntervalSecs) * time.Second,
			Run: func(ctx context.Context) error {
				res, err := env.Tuning.RunCycle(ctx)
				if err != nil {
					return err
				}
				zap.L().Info("scheduled tuning pass",
					zap.Int("signals", len(res.Signals)),
					zap.Int("created", len(res.Created)),
				)
				return nil
			},
		},
		{
			Name:     "evolution",
			Interval: time.Duration(mc.EvolutionIntervalSecs) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := env.Evolution.RunCycle(ctx, 0)
				return err
			},
		},
	}, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also run the scheduled passes")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}
