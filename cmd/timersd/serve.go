package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/redis-timers/cmd/timersd/httpapi"
)

func (a *cli) serveCommand() *cobra.Command {
	var (
		tickInterval     time.Duration
		diagnosticsAddr  string
		diagnosticsRPM   int
		diagnosticsBurst int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch loop, draining due timers on a fixed cadence",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(*a.configPath)
			if err != nil {
				return err
			}
			defer application.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if diagnosticsAddr != "" {
				srv := &http.Server{
					Addr:    diagnosticsAddr,
					Handler: httpapi.NewServer(application.engine, application.log, diagnosticsRPM, diagnosticsBurst),
				}
				go func() {
					application.log.Info("diagnostics API listening", "addr", diagnosticsAddr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						application.log.Error("diagnostics API stopped", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			return runDispatchLoop(ctx, application, tickInterval)
		},
	}

	cmd.Flags().DurationVar(&tickInterval, "tick-interval", time.Second, "how often to drain due timers")
	cmd.Flags().StringVar(&diagnosticsAddr, "diagnostics-addr", "", "address to serve the read-only diagnostics API on (empty disables it)")
	cmd.Flags().IntVar(&diagnosticsRPM, "diagnostics-rate-limit", 60, "diagnostics API requests per minute per client")
	cmd.Flags().IntVar(&diagnosticsBurst, "diagnostics-burst", 10, "diagnostics API burst capacity per client")

	return cmd
}

func runDispatchLoop(ctx context.Context, application *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			application.log.Info("dispatch loop stopping")
			return nil
		case <-ticker.C:
			if err := application.engine.HandleReadyTimers(ctx); err != nil {
				application.log.Error("tick failed", "error", err)
			}
		}
	}
}
