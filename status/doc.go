// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package status implements the Server List Ping protocol as described at
https://wiki.vg/Server_List_Ping. It is the exchange the game client performs to fill in the
multiplayer server list: a handshake asking for the status state, a status request, and a JSON
document in reply, optionally followed by a ping whose echo measures latency.
*/
package status
