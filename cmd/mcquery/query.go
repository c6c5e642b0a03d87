// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/schultz-is/mcquery/query"
)

func queryCmd(g *globals) *cobra.Command {
	var statTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Request stats from a query listener",
		Long: `Request stats from a server's query listener. The server must run with
enable-query=true; the listener uses query.port, which defaults to the game port.`,
	}
	cmd.PersistentFlags().DurationVar(&statTimeout, "stat-timeout", query.DefaultStatTimeout,
		"Time to wait for a stat response before retrying with a new challenge token")

	client := func() *query.Client {
		return query.NewClient(query.ClientConfig{
			Timeout:     g.timeout,
			StatTimeout: statTimeout,
			Logger:      g.logger(),
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "basic host[:port]",
			Short: "Request basic stats",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := parseAddress(args[0], defaultGamePort)
				if err != nil {
					return err
				}
				resp, err := client().BasicStat(cmd.Context(), t.Host, t.Port)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				return printBasicStat(t.String(), resp)
			},
		},
		&cobra.Command{
			Use:   "full host[:port]",
			Short: "Request full stats, including the player list",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := parseAddress(args[0], defaultGamePort)
				if err != nil {
					return err
				}
				resp, err := client().FullStat(cmd.Context(), t.Host, t.Port)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				return printFullStat(t.String(), resp)
			},
		},
	)

	return cmd
}
