package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/tootrank/internal/scheduler"
)

var (
	metricsAddr string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Keep the timeline and affinities fresh in the background",
		Long: `Runs the scheduler: timeline refresh, affinity recalculation and daily
candidate pruning, plus the daily digest email when digest.send_at and an
email provider are configured. Prometheus metrics are served on --metrics-addr.
SIGHUP reloads the config file.`,
		RunE: runDaemon,
	}
)

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (default from config, \"off\" disables)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(cfg.Digest.Timezone, logger)
	if err != nil {
		return err
	}
	if err := e.app.Schedule(sched); err != nil {
		return err
	}

	// Warm up before the first tick.
	if _, err := e.app.RefreshTimeline(ctx, false); err != nil {
		logger.Warn().Err(err).Msg("initial timeline refresh failed")
	}
	e.app.RecalculateNow(ctx)

	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr != "" && addr != "off" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info().Str("addr", addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := e.app.ReloadConfig(); err != nil {
					logger.Error().Err(err).Msg("failed to reload config")
					continue
				}
				// Schedules may have changed.
				if err := e.app.Schedule(sched); err != nil {
					logger.Error().Err(err).Msg("failed to reschedule jobs")
				}
			}
		}
	})

	logger.Info().Msg("tootrank running, press Ctrl+C to stop")
	return g.Wait()
}
