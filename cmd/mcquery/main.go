// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Command mcquery talks to Minecraft servers over the status, query and RCON protocols.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/schultz-is/mcquery/internal/exporter"
)

// Version information set at build time.
var version = "dev"

const (
	defaultGamePort = 25565
	defaultRCONPort = 25575
)

// globals holds the flags shared by every command.
type globals struct {
	timeout time.Duration
	debug   bool
	json    bool
	noColor bool
}

// logger returns a logger writing to stderr. Packet dumps are only shown with --debug.
func (g *globals) logger() *slog.Logger {
	level := pterm.LogLevelWarn
	if g.debug {
		level = pterm.LogLevelDebug
	}
	return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(level).WithWriter(os.Stderr)))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, pterm.Error.Sprint(err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "mcquery",
		Short: "Query Minecraft servers",
		Long: `mcquery talks to Minecraft servers over their three network interfaces:

  status    the server list ping every client uses (TCP, usually port 25565)
  query     the GameSpy4 based query listener (UDP, enable-query=true)
  rcon      remote console commands (TCP, enable-rcon=true)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor || g.json {
				pterm.DisableStyling()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.DurationVarP(&g.timeout, "timeout", "t", 0, "Time allowed per request; 0 uses the protocol default")
	flags.BoolVarP(&g.debug, "debug", "d", false, "Log every packet sent and received to stderr")
	flags.BoolVar(&g.json, "json", false, "Print results as JSON")
	flags.BoolVar(&g.noColor, "no-color", false, "Disable colors and styling")

	cmd.AddCommand(
		statusCmd(g),
		queryCmd(g),
		rconCmd(g),
		probeCmd(g),
		exporterCmd(g),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// parseAddress parses "host" or "host:port", filling in defaultPort.
func parseAddress(s string, defaultPort uint16) (exporter.Target, error) {
	t, err := exporter.ParseTarget(s, defaultPort)
	if err != nil {
		return exporter.Target{}, err
	}
	if t.QueryPort != 0 {
		return exporter.Target{}, fmt.Errorf("unexpected query port in %q", s)
	}
	return t, nil
}
