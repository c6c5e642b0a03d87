// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/schultz-is/mcquery"
	"github.com/schultz-is/mcquery/rcon"
)

func TestPacketBinaryFormatting(t *testing.T) {
	ps := []rcon.Packet{
		// Empty packet
		{},
		// Example login request
		{ID: 1, Type: rcon.PacketTypeLogin, Payload: "password"},
		// Example successful and unsuccessful login responses
		{ID: 1, Type: rcon.PacketTypeRunCommand},
		{ID: -1, Type: rcon.PacketTypeRunCommand},
		// Example command request and response
		{ID: 1, Type: rcon.PacketTypeRunCommand, Payload: "time set day"},
		{ID: 1, Type: rcon.PacketTypeResponse, Payload: "Set the time to 1000"},
		// Section sign prefixed output
		{ID: 1, Type: rcon.PacketTypeResponse, Payload: "\xa7eThere are 0 of a max of 20 players online"},
		// Largest packet allowed
		{ID: math.MaxInt32, Type: rcon.PacketTypeResponse, Payload: strings.Repeat("x", rcon.MaxClientboundPayload)},
	}

	for _, p := range ps {
		b, err := p.MarshalBinary()
		if err != nil {
			t.Fatalf("Packet[%#v].MarshalBinary() failed unexpectedly: %s", p, err)
		}

		// The length field always covers the ID, type, payload and both null bytes.
		wantLen := 2*4 + len(p.Payload) + 2
		if int(p.Length()) != wantLen || len(b) != 4+wantLen {
			t.Fatalf("Packet[%#v] length is %d (%d encoded bytes), want %d", p, p.Length(), len(b), wantLen)
		}

		var buf bytes.Buffer
		n, err := p.WriteTo(&buf)
		if err != nil {
			t.Fatalf("Packet[%#v].WriteTo() failed unexpectedly: %s", p, err)
		}
		if !bytes.Equal(b, buf.Bytes()) {
			t.Fatalf("Packet[%#v].WriteTo() wrote %0x, MarshalBinary() returned %0x", p, buf.Bytes(), b)
		}

		var p2 rcon.Packet
		err = p2.UnmarshalBinary(b)
		if err != nil {
			t.Fatalf("Packet.UnmarshalBinary(%0x) failed unexpectedly: %s", b, err)
		}

		var p3 rcon.Packet
		n3, err := p3.ReadFrom(&buf)
		if err != nil {
			t.Fatalf("Packet.ReadFrom(%0x) failed unexpectedly: %s", b, err)
		}

		// Check that MarshalBinary is the identity function.
		if !p.EqualTo(p2) {
			t.Fatalf("Packet[%#v].MarshalBinary() is not the identity function, got: %#v", p, p2)
		}

		// Ensure WriteTo is the identity function.
		if n != n3 || !p.EqualTo(p3) {
			t.Fatalf("Packet[%#v].WriteTo() is not the identity function, got: %#v", p, p3)
		}
	}

	// Disallow payloads above the clientbound maximum defined by the protocol.
	p := rcon.Packet{Payload: strings.Repeat("x", rcon.MaxClientboundPayload+1)}
	if _, err := p.MarshalBinary(); !errors.Is(err, rcon.ErrPayloadTooLong) {
		t.Fatalf("Packet[%d byte payload].MarshalBinary() error = %v, want %v", len(p.Payload), err, rcon.ErrPayloadTooLong)
	}

	// Disallow non-ASCII payloads other than the section sign.
	p = rcon.Packet{Payload: "caf\xc3\xa9"}
	if _, err := p.MarshalBinary(); !errors.Is(err, rcon.ErrNonASCIIPayload) {
		t.Fatalf("Packet[%#v].MarshalBinary() error = %v, want %v", p, err, rcon.ErrNonASCIIPayload)
	}
}

func TestPacketUnmarshalInvalid(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want error
	}{
		{"negative length", "d6ffffff", rcon.ErrInvalidResponse},
		{"length smaller than allowed", "09000000", rcon.ErrInvalidResponse},
		{"length larger than allowed", "0b100000", rcon.ErrPayloadTooLong},
		{"packet shorter than length", "0a00000011", io.ErrUnexpectedEOF},
		{"packet longer than length", "0a000000111111110000000000000000", rcon.ErrInvalidResponse},
		{"missing null termination", "0a000000111111110000000033333333", rcon.ErrInvalidResponse},
		{"non-zero pad byte", "0b0000001111111100000000410001", rcon.ErrInvalidResponse},
		{"length does not match payload", "0c000000111111110000000041000000", rcon.ErrInvalidResponse},
		{"non-ascii payload", "0b0000001111111100000000ff0000", rcon.ErrNonASCIIPayload},
		{"unknown packet type", "0a0000001111111105000000" + "0000", rcon.ErrInvalidPacketType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := hex.DecodeString(tt.hex)
			if err != nil {
				t.Fatalf("invalid hex string in test table: %s, %s", tt.hex, err)
			}

			var p rcon.Packet
			err = p.UnmarshalBinary(b)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Packet.UnmarshalBinary(%0x) error = %v, want %v", b, err, tt.want)
			}
			if tt.want != io.ErrUnexpectedEOF && !mcquery.IsProtocolError(err) {
				t.Fatalf("Packet.UnmarshalBinary(%0x) error %v is not a protocol error", b, err)
			}
		})
	}
}

func TestPacketSectionSignAccepted(t *testing.T) {
	b, err := hex.DecodeString("0b0000000100000000000000a70000")
	if err != nil {
		t.Fatal(err)
	}

	var p rcon.Packet
	if err := p.UnmarshalBinary(b); err != nil {
		t.Fatalf("Packet.UnmarshalBinary(%0x) failed unexpectedly: %s", b, err)
	}
	if p.Payload != "\xa7" || p.ID != 1 || p.Type != rcon.PacketTypeResponse {
		t.Fatalf("Packet.UnmarshalBinary(%0x) = %#v", b, p)
	}
}

func TestParsePacketType(t *testing.T) {
	for _, v := range []int32{0, 2, 3} {
		pt, err := rcon.ParsePacketType(v)
		if err != nil {
			t.Fatalf("ParsePacketType(%d) failed unexpectedly: %s", v, err)
		}
		if int32(pt) != v {
			t.Fatalf("ParsePacketType(%d) = %d", v, pt)
		}
	}

	for _, v := range []int32{-1, 1, 4, math.MaxInt32} {
		if _, err := rcon.ParsePacketType(v); !errors.Is(err, rcon.ErrInvalidPacketType) {
			t.Fatalf("ParsePacketType(%d) error = %v, want %v", v, err, rcon.ErrInvalidPacketType)
		}
	}

	if got := rcon.PacketTypeLogin.String(); got != "login" {
		t.Fatalf("PacketTypeLogin.String() = %q", got)
	}
	if got := rcon.PacketType(9).String(); got != "PacketType(9)" {
		t.Fatalf("PacketType(9).String() = %q", got)
	}
}

func TestPacketEqualTo(t *testing.T) {
	p := rcon.Packet{}
	if !p.EqualTo(p) {
		t.Fatalf("Packet[%#v].EqualTo(%#v) returned false when comparing a packet to itself", p, p)
	}

	p = rcon.Packet{
		ID:      12345,
		Type:    rcon.PacketTypeResponse,
		Payload: "some command response value goes here...",
	}
	p2 := p
	if !p.EqualTo(p2) {
		t.Fatalf("Packet[%#v].EqualTo(%#v) returned false when comparing a packet to a copy of itself", p, p2)
	}

	p2.ID = p.ID - 1
	if p.EqualTo(p2) {
		t.Fatalf("Packet[%#v].EqualTo(%#v) incorrectly returned true for different IDs", p, p2)
	}

	p2.ID = p.ID
	p2.Type = rcon.PacketTypeLogin
	if p.EqualTo(p2) {
		t.Fatalf("Packet[%#v].EqualTo(%#v) incorrectly returned true for different types", p, p2)
	}

	p2.Type = p.Type
	p2.Payload = p.Payload + "X"
	if p.EqualTo(p2) {
		t.Fatalf("Packet[%#v].EqualTo(%#v) incorrectly returned true for different payloads", p, p2)
	}
}

func BenchmarkMarshalBinary(b *testing.B) {
	payloadSizes := []int{
		0,
		5,
		10,
		25,
		125,
		500,
		1000,
		rcon.MaxServerboundPayload,
		rcon.MaxClientboundPayload,
	}

	for _, size := range payloadSizes {
		b.Run(
			strconv.Itoa(size),
			func(b *testing.B) {
				p := rcon.Packet{
					Payload: strings.Repeat("x", size),
				}
				for n := 0; n < b.N; n++ {
					bs, err := p.MarshalBinary()
					if err != nil {
						b.Fatal(err)
					}
					b.SetBytes(int64(len(bs)))
				}
			},
		)
	}
}
