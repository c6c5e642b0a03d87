// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/schultz-is/mcquery/query"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(res statusResult) error {
	resp := res.Response
	pterm.DefaultSection.Println(res.Address)

	data := pterm.TableData{
		{"Version", fmt.Sprintf("%s (protocol %d)", resp.Version.Name, resp.Version.Protocol)},
		{"Players", fmt.Sprintf("%d/%d", resp.Players.Online, resp.Players.Max)},
		{"MOTD", strings.TrimSpace(resp.Description.String())},
	}
	if res.Latency > 0 {
		data = append(data, []string{"Ping", res.Latency.String()})
	}
	if resp.EnforcesSecureChat != nil {
		data = append(data, []string{"Secure chat", strconv.FormatBool(*resp.EnforcesSecureChat)})
	}
	if resp.Favicon != "" {
		data = append(data, []string{"Favicon", fmt.Sprintf("%d bytes", len(resp.Favicon))})
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}

	if len(resp.Players.Sample) == 0 {
		return nil
	}
	sample := pterm.TableData{{"Player", "UUID"}}
	for _, s := range resp.Players.Sample {
		sample = append(sample, []string{s.Name, s.ID.String()})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(sample).Render()
}

func printBasicStat(address string, resp *query.BasicStatResponse) error {
	pterm.DefaultSection.Println(address)

	return pterm.DefaultTable.WithData(pterm.TableData{
		{"MOTD", resp.MOTD},
		{"Game type", resp.GameType},
		{"Map", resp.Map},
		{"Players", fmt.Sprintf("%d/%d", resp.NumPlayers, resp.MaxPlayers)},
		{"Host", fmt.Sprintf("%s:%d", resp.HostIP, resp.HostPort)},
	}).Render()
}

func printFullStat(address string, resp *query.FullStatResponse) error {
	pterm.DefaultSection.Println(address)

	data := pterm.TableData{
		{"MOTD", resp.MOTD},
		{"Game type", resp.GameType},
		{"Game ID", resp.GameID},
		{"Version", resp.Version},
		{"Plugins", resp.Plugins},
		{"Map", resp.Map},
		{"Players", fmt.Sprintf("%d/%d", resp.NumPlayers, resp.MaxPlayers)},
		{"Host", fmt.Sprintf("%s:%d", resp.HostIP, resp.HostPort)},
	}
	for _, k := range slices.Sorted(maps.Keys(resp.Extra)) {
		data = append(data, []string{k, resp.Extra[k]})
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}

	if len(resp.Players) == 0 {
		return nil
	}
	players := pterm.TableData{{"Player"}}
	for _, name := range resp.Players {
		players = append(players, []string{name})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(players).Render()
}
