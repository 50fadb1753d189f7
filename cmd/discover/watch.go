package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fibanez/aws-dash-architect-sub001/internal/daemon"
)

// runWatch runs discovery on an interval until a signal arrives. The poll
// loop, the metrics server and the signal handler are actors of one group;
// the first to return stops the others. SIGHUP re-queues failed keys.
func runWatch(ctx context.Context, a *app, scopePath, metricsAddr string) error {
	metrics, err := daemon.NewMetrics(a.telemetry.Meter())
	if err != nil {
		return err
	}
	d, err := daemon.New(a.orch, scopeSource(a, scopePath), daemon.Config{
		Interval: a.cfg.Discovery.Interval,
		Logger:   &a.logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	{
		loopCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(loopCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		hupCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			for {
				select {
				case <-hup:
					d.RetryFailed()
				case <-hupCtx.Done():
					return nil
				}
			}
		}, func(error) {
			signal.Stop(hup)
			cancel()
		})
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.RegisterHandlers(mux)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return err
		}
		g.Add(func() error {
			a.logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics and health")
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		a.logger.Info().Err(err).Msg("shutting down")
		return nil
	}
	return err
}
