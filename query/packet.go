// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package query

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/schultz-is/mcquery"
)

// SessionIDMask clears the high nibble of every byte of a session ID. Servers treat the session ID
// as four independent bytes and reject bytes with the high nibble set.
const SessionIDMask = 0x0f0f0f0f

// magic prefixes every request datagram.
var magic = [2]byte{0xfe, 0xfd}

const (
	// kvPaddingSize is the fixed block between the header of a full stat response and its
	// key/value section. Vanilla servers send "splitnum\x00\x80\x00".
	kvPaddingSize = 11

	// playerPaddingSize is the fixed block between the key/value section and the player list.
	// Vanilla servers send "\x01player_\x00\x00".
	playerPaddingSize = 10

	// headerSize covers the type byte and session ID at the start of every response.
	headerSize = 1 + 4
)

var (
	// ErrInvalidPacketType is returned when a response starts with a type byte that is not a known
	// [PacketType].
	ErrInvalidPacketType = mcquery.NewProtocolError("query", "invalid packet type")

	// ErrUnexpectedPacketType is returned when a response carries a known [PacketType] other than
	// the one requested.
	ErrUnexpectedPacketType = mcquery.NewProtocolError("query", "unexpected packet type")

	// ErrSessionIDMismatch is returned when a response echoes a session ID other than the one sent.
	ErrSessionIDMismatch = mcquery.NewProtocolError("query", "session id mismatch")

	// ErrInvalidChallengeToken is returned when a handshake response does not carry a decimal
	// challenge token. Such errors also match [ErrCannotParseInt].
	ErrInvalidChallengeToken = mcquery.NewProtocolError("query", "invalid challenge token")

	// ErrCannotParseInt is returned when a numeric field does not hold a decimal integer.
	ErrCannotParseInt = mcquery.NewProtocolError("query", "cannot parse int")

	// ErrInvalidUTF8 is returned when a string field is not valid UTF-8.
	ErrInvalidUTF8 = mcquery.NewProtocolError("query", "invalid utf-8")

	// ErrInvalidKeyValueSection is returned when the key/value section of a full stat response
	// lacks one of the required keys.
	ErrInvalidKeyValueSection = mcquery.NewProtocolError("query", "invalid key/value section")

	// ErrTruncatedPacket is returned when a response ends before a field it must contain.
	ErrTruncatedPacket = mcquery.NewProtocolError("query", "truncated packet")
)

// PacketType is the type byte found in both requests and responses.
type PacketType byte

const (
	PacketTypeStat      PacketType = 0
	PacketTypeHandshake PacketType = 9
)

var packetTypeNames = map[PacketType]string{
	PacketTypeStat:      "stat",
	PacketTypeHandshake: "handshake",
}

// ParsePacketType maps b to a [PacketType]. Unknown values fail with [ErrInvalidPacketType].
func ParsePacketType(b byte) (PacketType, error) {
	t := PacketType(b)
	if _, ok := packetTypeNames[t]; !ok {
		return 0, fmt.Errorf("%w: %#02x", ErrInvalidPacketType, b)
	}
	return t, nil
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", byte(t))
}

// AppendHandshakeRequest appends a handshake request for sessionID to buf.
func AppendHandshakeRequest(buf []byte, sessionID int32) []byte {
	buf = append(buf, magic[:]...)
	buf = append(buf, byte(PacketTypeHandshake))
	return binary.BigEndian.AppendUint32(buf, uint32(sessionID))
}

// AppendStatRequest appends a stat request to buf. A full stat request carries four extra zero
// bytes after the challenge token.
func AppendStatRequest(buf []byte, sessionID, token int32, full bool) []byte {
	buf = append(buf, magic[:]...)
	buf = append(buf, byte(PacketTypeStat))
	buf = binary.BigEndian.AppendUint32(buf, uint32(sessionID))
	buf = binary.BigEndian.AppendUint32(buf, uint32(token))
	if full {
		buf = append(buf, 0, 0, 0, 0)
	}
	return buf
}

// DecodeHandshakeResponse checks the header of a handshake response and returns the challenge
// token it carries.
func DecodeHandshakeResponse(b []byte, sessionID int32) (int32, error) {
	r, err := newResponseReader(b, PacketTypeHandshake, sessionID)
	if err != nil {
		return 0, err
	}

	s, err := r.cstring()
	if err != nil {
		return 0, err
	}
	token, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %q", ErrInvalidChallengeToken, ErrCannotParseInt, s)
	}
	return int32(token), nil
}

// DecodeBasicStat checks the header of a basic stat response and decodes its fields.
func DecodeBasicStat(b []byte, sessionID int32) (*BasicStatResponse, error) {
	r, err := newResponseReader(b, PacketTypeStat, sessionID)
	if err != nil {
		return nil, err
	}

	var resp BasicStatResponse
	if resp.MOTD, err = r.cstring(); err != nil {
		return nil, err
	}
	if resp.GameType, err = r.cstring(); err != nil {
		return nil, err
	}
	if resp.Map, err = r.cstring(); err != nil {
		return nil, err
	}
	if resp.NumPlayers, err = r.decimal(); err != nil {
		return nil, err
	}
	if resp.MaxPlayers, err = r.decimal(); err != nil {
		return nil, err
	}
	if resp.HostPort, err = r.uint16LE(); err != nil {
		return nil, err
	}
	if resp.HostIP, err = r.cstring(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecodeFullStat checks the header of a full stat response and decodes its key/value section and
// player list.
func DecodeFullStat(b []byte, sessionID int32) (*FullStatResponse, error) {
	r, err := newResponseReader(b, PacketTypeStat, sessionID)
	if err != nil {
		return nil, err
	}

	if err := r.skip(kvPaddingSize); err != nil {
		return nil, err
	}

	kv := make(map[string]string)
	for {
		key, err := r.cstring()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		value, err := r.cstring()
		if err != nil {
			return nil, err
		}
		kv[key] = value
	}

	resp, err := fullStatFromKeyValues(kv)
	if err != nil {
		return nil, err
	}

	if err := r.skip(playerPaddingSize); err != nil {
		return nil, err
	}

	resp.Players = []string{}
	for {
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		resp.Players = append(resp.Players, name)
	}
	return resp, nil
}

// fullStatFromKeyValues moves the required keys out of kv into a response. Whatever remains ends up
// in Extra.
func fullStatFromKeyValues(kv map[string]string) (*FullStatResponse, error) {
	take := func(key string) (string, error) {
		v, ok := kv[key]
		if !ok {
			return "", fmt.Errorf("%w: missing %q", ErrInvalidKeyValueSection, key)
		}
		delete(kv, key)
		return v, nil
	}
	takeInt := func(key string, bitSize int) (uint64, error) {
		v, err := take(key)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(v, 10, bitSize)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q", ErrCannotParseInt, key, v)
		}
		return n, nil
	}

	var (
		resp FullStatResponse
		err  error
		n    uint64
	)
	if resp.MOTD, err = take("hostname"); err != nil {
		return nil, err
	}
	if resp.GameType, err = take("gametype"); err != nil {
		return nil, err
	}
	if resp.GameID, err = take("game_id"); err != nil {
		return nil, err
	}
	if resp.Version, err = take("version"); err != nil {
		return nil, err
	}
	if resp.Plugins, err = take("plugins"); err != nil {
		return nil, err
	}
	if resp.Map, err = take("map"); err != nil {
		return nil, err
	}
	if n, err = takeInt("numplayers", 31); err != nil {
		return nil, err
	}
	resp.NumPlayers = int(n)
	if n, err = takeInt("maxplayers", 31); err != nil {
		return nil, err
	}
	resp.MaxPlayers = int(n)
	if n, err = takeInt("hostport", 16); err != nil {
		return nil, err
	}
	resp.HostPort = uint16(n)
	if resp.HostIP, err = take("hostip"); err != nil {
		return nil, err
	}

	if len(kv) > 0 {
		resp.Extra = kv
	}
	return &resp, nil
}

// responseReader walks a response datagram field by field.
type responseReader struct {
	b   []byte
	off int
}

// newResponseReader validates the type and session ID at the start of b and returns a reader
// positioned after them.
func newResponseReader(b []byte, want PacketType, sessionID int32) (*responseReader, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncatedPacket, len(b))
	}

	t, err := ParsePacketType(b[0])
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPacketType, t, want)
	}

	if got := int32(binary.BigEndian.Uint32(b[1:headerSize])); got != sessionID {
		return nil, fmt.Errorf("%w: got %#08x, want %#08x", ErrSessionIDMismatch, got, sessionID)
	}
	return &responseReader{b: b, off: headerSize}, nil
}

// cstring reads a null terminated string.
func (r *responseReader) cstring() (string, error) {
	end := bytes.IndexByte(r.b[r.off:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrTruncatedPacket, r.off)
	}
	s := r.b[r.off : r.off+end]
	if !utf8.Valid(s) {
		return "", fmt.Errorf("%w: string at offset %d", ErrInvalidUTF8, r.off)
	}
	r.off += end + 1
	return string(s), nil
}

// decimal reads a null terminated string holding a non-negative decimal integer.
func (r *responseReader) decimal() (int, error) {
	s, err := r.cstring()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCannotParseInt, s)
	}
	return int(n), nil
}

func (r *responseReader) uint16LE() (uint16, error) {
	if len(r.b)-r.off < 2 {
		return 0, fmt.Errorf("%w: short at offset %d", ErrTruncatedPacket, r.off)
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *responseReader) skip(n int) error {
	if len(r.b)-r.off < n {
		return fmt.Errorf("%w: %d bytes of padding at offset %d", ErrTruncatedPacket, n, r.off)
	}
	r.off += n
	return nil
}
