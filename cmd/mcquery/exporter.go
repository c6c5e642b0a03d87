// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schultz-is/mcquery/internal/exporter"
	"github.com/schultz-is/mcquery/query"
	"github.com/schultz-is/mcquery/status"
)

const shutdownTimeout = 5 * time.Second

func exporterCmd(g *globals) *cobra.Command {
	var (
		listen      string
		interval    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "exporter target...",
		Short: "Serve Prometheus metrics for a set of servers",
		Long: `Poll every target in the background and serve the results as Prometheus metrics
on /metrics. A target is host[:port][/queryport]; the query listener is only
polled when a query port is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := make([]exporter.Target, 0, len(args))
			for _, arg := range args {
				t, err := exporter.ParseTarget(arg, defaultGamePort)
				if err != nil {
					return err
				}
				targets = append(targets, t)
			}

			logger := g.logger()
			e := exporter.New(exporter.Config{
				Targets:     targets,
				Status:      status.NewClient(status.ClientConfig{Timeout: g.timeout, Logger: logger}),
				Query:       query.NewClient(query.ClientConfig{Timeout: g.timeout, Logger: logger}),
				Interval:    interval,
				Concurrency: concurrency,
				Logger:      logger,
			})

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				e,
			)

			srv := &http.Server{
				Addr:              listen,
				Handler:           exporter.Handler(e, reg),
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() error {
				return e.Run(ctx)
			})
			eg.Go(func() error {
				logger.LogAttrs(ctx, slog.LevelInfo, "serving metrics", slog.String("address", listen))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":9225", "Address to serve metrics on")
	cmd.Flags().DurationVarP(&interval, "interval", "i", exporter.DefaultInterval, "Time between polls")
	cmd.Flags().IntVar(&concurrency, "concurrency", exporter.DefaultConcurrency, "Number of targets polled at once")

	return cmd
}
