// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schultz-is/mcquery/rcon"
)

const passwordEnv = "MCQUERY_RCON_PASSWORD"

type rconResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

func rconCmd(g *globals) *cobra.Command {
	var (
		password string
		sentinel bool
	)

	cmd := &cobra.Command{
		Use:   "rcon host[:port] [command...]",
		Short: "Run console commands over RCON",
		Long: `Authenticate with a server's RCON listener and run a command. Without a command,
commands are read from standard input, one per line.

The password is taken from --password or the ` + passwordEnv + ` environment variable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseAddress(args[0], defaultRCONPort)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				return errors.New("no password given; use --password or set " + passwordEnv)
			}

			ctx := cmd.Context()
			client, err := rcon.Dial(ctx, t.Host, t.Port, rcon.ClientConfig{
				Timeout:  g.timeout,
				Logger:   g.logger(),
				Sentinel: sentinel,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Authenticate(ctx, password); err != nil {
				return err
			}

			run := func(command string) error {
				output, err := client.RunCommand(ctx, command)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), rconResult{Command: command, Output: output})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(output, "\n"))
				return err
			}

			if len(args) > 1 {
				return run(strings.Join(args[1:], " "))
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := run(line); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&password, "password", "P", "", "RCON password (default $"+passwordEnv+")")
	cmd.Flags().BoolVar(&sentinel, "sentinel", false, "Detect the end of long responses with a trailing marker packet")

	return cmd
}
