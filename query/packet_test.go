// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package query_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/schultz-is/mcquery"
	"github.com/schultz-is/mcquery/query"
)

func TestRequestEncoding(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		hex  string
	}{
		{"handshake", query.AppendHandshakeRequest(nil, 1), "fefd0900000001"},
		{"basic stat", query.AppendStatRequest(nil, 1, testToken, false), "fefd00000000010091295b"},
		{"full stat", query.AppendStatRequest(nil, 0x0f0f0f0f, testToken, true), "fefd000f0f0f0f0091295b00000000"},
		{"negative token", query.AppendStatRequest(nil, 1, -2, false), "fefd0000000001fffffffe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hex.EncodeToString(tt.b); got != tt.hex {
				t.Fatalf("request = %s, want %s", got, tt.hex)
			}
		})
	}
}

func TestDecodeHandshakeResponse(t *testing.T) {
	token, err := query.DecodeHandshakeResponse(append(header(9, 7), "9513307\x00"...), 7)
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse() failed unexpectedly: %s", err)
	}
	if token != testToken {
		t.Fatalf("DecodeHandshakeResponse() = %d, want %d", token, testToken)
	}

	token, err = query.DecodeHandshakeResponse(append(header(9, 7), "-1234\x00"...), 7)
	if err != nil || token != -1234 {
		t.Fatalf("DecodeHandshakeResponse(negative) = %d, %v", token, err)
	}

	for _, s := range []string{"abc\x00", "\x00", "4294967296\x00"} {
		_, err := query.DecodeHandshakeResponse(append(header(9, 7), s...), 7)
		if !errors.Is(err, query.ErrInvalidChallengeToken) || !errors.Is(err, query.ErrCannotParseInt) {
			t.Fatalf("DecodeHandshakeResponse(%q) error = %v, want %v and %v", s, err, query.ErrInvalidChallengeToken, query.ErrCannotParseInt)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	basic := append(header(0, 7), basicBody...)
	full := append(header(0, 7), fullBody...)

	tests := []struct {
		name   string
		decode func([]byte, int32) error
		b      []byte
		want   error
	}{
		{"empty datagram", decodeBasic, nil, query.ErrTruncatedPacket},
		{"short header", decodeBasic, []byte{0, 0, 0}, query.ErrTruncatedPacket},
		{"unknown type", decodeBasic, append(header(5, 7), basicBody...), query.ErrInvalidPacketType},
		{"handshake instead of stat", decodeBasic, append(header(9, 7), basicBody...), query.ErrUnexpectedPacketType},
		{"stat instead of handshake", decodeHandshake, append(header(0, 7), "1\x00"...), query.ErrUnexpectedPacketType},
		{"session mismatch", decodeBasic, append(header(0, 8), basicBody...), query.ErrSessionIDMismatch},
		{"unterminated string", decodeBasic, append(header(0, 7), "motd"...), query.ErrTruncatedPacket},
		{"invalid utf-8", decodeBasic, append(header(0, 7), "\xff\xfe\x00"...), query.ErrInvalidUTF8},
		{"bad player count", decodeBasic, bytes.Replace(basic, []byte("\x002\x00"), []byte("\x00two\x00"), 1), query.ErrCannotParseInt},
		{"negative max players", decodeBasic, bytes.Replace(basic, []byte("\x0020\x00"), []byte("\x00-20\x00"), 1), query.ErrCannotParseInt},
		{"missing host port", decodeBasic, append(header(0, 7), "m\x00g\x00w\x001\x002\x00\xdd"...), query.ErrTruncatedPacket},
		{"missing host ip", decodeBasic, basic[:len(basic)-3], query.ErrTruncatedPacket},
		{"short full padding", decodeFull, append(header(0, 7), "split"...), query.ErrTruncatedPacket},
		{"missing hostport", decodeFull, bytes.Replace(full, []byte("hostport\x0025565\x00"), nil, 1), query.ErrInvalidKeyValueSection},
		{"missing hostname", decodeFull, bytes.Replace(full, []byte("hostname\x00A Minecraft Server\x00"), nil, 1), query.ErrInvalidKeyValueSection},
		{"bad hostport", decodeFull, bytes.Replace(full, []byte("25565"), []byte("65536"), 1), query.ErrCannotParseInt},
		{"unterminated key/value section", decodeFull, full[:bytes.Index(full, []byte("hostip"))], query.ErrTruncatedPacket},
		{"unterminated player list", decodeFull, full[:len(full)-1], query.ErrTruncatedPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode(tt.b, 7)
			if !errors.Is(err, tt.want) {
				t.Fatalf("decode(%x) error = %v, want %v", tt.b, err, tt.want)
			}
			if !mcquery.IsProtocolError(err) {
				t.Fatalf("decode(%x) error %v is not a protocol error", tt.b, err)
			}
		})
	}
}

func decodeBasic(b []byte, sessionID int32) error {
	_, err := query.DecodeBasicStat(b, sessionID)
	return err
}

func decodeFull(b []byte, sessionID int32) error {
	_, err := query.DecodeFullStat(b, sessionID)
	return err
}

func decodeHandshake(b []byte, sessionID int32) error {
	_, err := query.DecodeHandshakeResponse(b, sessionID)
	return err
}

func TestDecodeFullStatExtra(t *testing.T) {
	b := append(header(0, 7), bytes.Replace(fullBody, []byte("hostip\x00"), []byte("whitelist\x00on\x00hostip\x00"), 1)...)

	resp, err := query.DecodeFullStat(b, 7)
	if err != nil {
		t.Fatalf("DecodeFullStat() failed unexpectedly: %s", err)
	}
	if len(resp.Extra) != 1 || resp.Extra["whitelist"] != "on" {
		t.Fatalf("DecodeFullStat() extra = %v", resp.Extra)
	}
	if resp.HostIP != "127.0.0.1" {
		t.Fatalf("DecodeFullStat() host ip = %q", resp.HostIP)
	}
}

func TestDecodeFullStatNoPlayers(t *testing.T) {
	b := append(header(0, 7), bytes.Replace(fullBody, []byte("Notch\x00jeb_\x00\x00"), []byte("\x00"), 1)...)

	resp, err := query.DecodeFullStat(b, 7)
	if err != nil {
		t.Fatalf("DecodeFullStat() failed unexpectedly: %s", err)
	}
	if resp.Players == nil || len(resp.Players) != 0 {
		t.Fatalf("DecodeFullStat() players = %#v, want empty", resp.Players)
	}
}

func TestParsePacketType(t *testing.T) {
	for _, b := range []byte{0, 9} {
		pt, err := query.ParsePacketType(b)
		if err != nil || byte(pt) != b {
			t.Fatalf("ParsePacketType(%d) = %d, %v", b, pt, err)
		}
	}
	for _, b := range []byte{1, 8, 0xff} {
		if _, err := query.ParsePacketType(b); !errors.Is(err, query.ErrInvalidPacketType) {
			t.Fatalf("ParsePacketType(%d) error = %v, want %v", b, err, query.ErrInvalidPacketType)
		}
	}
	if got := query.PacketTypeHandshake.String(); got != "handshake" {
		t.Fatalf("PacketTypeHandshake.String() = %q", got)
	}
}
