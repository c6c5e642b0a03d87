// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package query implements the Minecraft Query protocol, a UDP protocol derived from GameSpy 4, as
described at https://wiki.vg/Query. Servers only answer it with enable-query set in
server.properties.

Every call starts with a handshake in which the server hands out a challenge token, followed by a
basic or full stat request carrying that token. Tokens expire every thirty seconds, so a stat
request can race the expiry; a stat request left unanswered is retried once with a new handshake.
*/
package query
