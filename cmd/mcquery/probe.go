// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schultz-is/mcquery/query"
	"github.com/schultz-is/mcquery/status"
)

type probeResult struct {
	Address string                  `json:"address"`
	Status  *status.Response        `json:"status"`
	Latency time.Duration           `json:"latency_ns"`
	Query   *query.FullStatResponse `json:"query"`
}

func probeCmd(g *globals) *cobra.Command {
	var queryPort uint16

	cmd := &cobra.Command{
		Use:   "probe host[:port]",
		Short: "Request status, ping and full stats at once",
		Long: `Request the server list status, measure the ping and request full stats over
the query protocol, all concurrently. The first failure aborts the rest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAddress(args[0], defaultGamePort)
			if err != nil {
				return err
			}
			if queryPort == 0 {
				queryPort = t.Port
			}

			logger := g.logger()
			sc := status.NewClient(status.ClientConfig{Timeout: g.timeout, Logger: logger})
			qc := query.NewClient(query.ClientConfig{Timeout: g.timeout, Logger: logger})

			res := probeResult{Address: t.String()}
			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() (err error) {
				res.Status, err = sc.Status(ctx, t.Host, t.Port)
				return err
			})
			eg.Go(func() (err error) {
				res.Latency, err = sc.Ping(ctx, t.Host, t.Port)
				return err
			})
			eg.Go(func() (err error) {
				res.Query, err = qc.FullStat(ctx, t.Host, queryPort)
				return err
			})
			if err := eg.Wait(); err != nil {
				return err
			}

			if g.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if err := printStatus(statusResult{Address: res.Address, Response: res.Status, Latency: res.Latency}); err != nil {
				return err
			}
			return printFullStat(res.Address, res.Query)
		},
	}

	cmd.Flags().Uint16VarP(&queryPort, "query-port", "q", 0, "UDP port of the query listener (default the game port)")

	return cmd
}
