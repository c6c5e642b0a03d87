// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/schultz-is/mcquery/status"
)

type statusResult struct {
	Address  string           `json:"address"`
	Response *status.Response `json:"status"`
	Latency  time.Duration    `json:"latency_ns,omitempty"`
}

func statusCmd(g *globals) *cobra.Command {
	var (
		ping     bool
		protocol int32
	)

	cmd := &cobra.Command{
		Use:   "status host[:port]",
		Short: "Request the server list status",
		Long: `Request the status shown in the multiplayer server list: version, player counts, a
sample of the players online and the message of the day.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAddress(args[0], defaultGamePort)
			if err != nil {
				return err
			}

			client := status.NewClient(status.ClientConfig{
				Timeout:         g.timeout,
				ProtocolVersion: protocol,
				Logger:          g.logger(),
			})
			resp, err := client.Status(cmd.Context(), t.Host, t.Port)
			if err != nil {
				return err
			}

			res := statusResult{Address: t.String(), Response: resp}
			if ping {
				if res.Latency, err = client.Ping(cmd.Context(), t.Host, t.Port); err != nil {
					return err
				}
			}

			if g.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printStatus(res)
		},
	}

	cmd.Flags().BoolVarP(&ping, "ping", "p", false, "Also measure the round trip time")
	cmd.Flags().Int32Var(&protocol, "protocol", status.DefaultProtocolVersion, "Protocol version sent in the handshake")

	return cmd
}
