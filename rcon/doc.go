// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package rcon provides a client for the Minecraft remote console protocol as described at
https://wiki.vg/RCON. The protocol is derived from Valve's Source RCON protocol, described at
https://developer.valvesoftware.com/wiki/Source_RCON_Protocol, but differs in the packet types a
server answers with and in how long command output is split.
*/
package rcon
