// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package query

// BasicStatResponse is the reply to a basic stat request.
type BasicStatResponse struct {
	MOTD       string `json:"motd"`
	GameType   string `json:"game_type"`
	Map        string `json:"map"`
	NumPlayers int    `json:"num_players"`
	MaxPlayers int    `json:"max_players"`

	// HostPort is the only little endian field in the protocol.
	HostPort uint16 `json:"host_port"`
	HostIP   string `json:"host_ip"`
}

// FullStatResponse is the reply to a full stat request.
type FullStatResponse struct {
	// MOTD is sent under the "hostname" key.
	MOTD     string `json:"motd"`
	GameType string `json:"game_type"`
	GameID   string `json:"game_id"`
	Version  string `json:"version"`

	// Plugins is empty on vanilla servers. Bukkit derived servers send the server software followed
	// by a colon and a semicolon separated plugin list.
	Plugins string `json:"plugins"`

	Map        string `json:"map"`
	NumPlayers int    `json:"num_players"`
	MaxPlayers int    `json:"max_players"`
	HostPort   uint16 `json:"host_port"`
	HostIP     string `json:"host_ip"`

	// Players holds the names of everyone online. Servers may truncate the list.
	Players []string `json:"players"`

	// Extra holds any keys beyond the ten every server sends. It is nil when there are none.
	Extra map[string]string `json:"extra,omitempty"`
}
