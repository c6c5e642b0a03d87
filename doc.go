// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package mcquery is the root of a set of clients for the three network protocols a Minecraft: Java
Edition server exposes to tooling:

  - [github.com/schultz-is/mcquery/status] implements Server List Ping over TCP, as described at
    https://wiki.vg/Server_List_Ping.
  - [github.com/schultz-is/mcquery/query] implements the GameSpy4 derived Query protocol over UDP,
    as described at https://wiki.vg/Query.
  - [github.com/schultz-is/mcquery/rcon] implements remote console over TCP, as described at
    https://wiki.vg/RCON.

The protocols are independent of each other. The only shared piece of wire encoding is the VarInt
found in [github.com/schultz-is/mcquery/varint], which only the status protocol uses.

Every protocol level failure is reported as a sentinel error declared by the relevant package.
Those sentinels are all [*ProtocolError] values, so [IsProtocolError] can be used to tell a server
that spoke the protocol incorrectly apart from a network that failed underneath it.
*/
package mcquery
