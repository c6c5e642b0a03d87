// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/schultz-is/mcquery"
)

// WrapperSize is the cumulative size of non-payload bytes that contribute to the length field that
// precedes a binary packet. Eight bytes are accounted for by the request ID and type, while two
// bytes are accounted for by the null terminator of the payload and the trailing pad byte. The
// length field itself is not included.
const WrapperSize = 4 + 4 + 2

const (
	// MaxServerboundPayload is the largest payload a client may send to the server.
	MaxServerboundPayload = 1446

	// MaxClientboundPayload is the largest payload a server may place in a single response packet.
	// Longer command output is split across several packets.
	MaxClientboundPayload = 4096

	// MaximumPacketSize is the largest value allowed for the length field that precedes binary
	// packets.
	MaximumPacketSize = MaxClientboundPayload + WrapperSize
)

// sectionSign is the only non-ASCII byte tolerated in payloads. Some servers (Craftbukkit for
// 1.4.7, for instance) prefix output with it as a raw Latin-1 byte.
const sectionSign = 0xa7

var (
	// ErrNonASCIIPayload is returned when a payload contains a byte that is neither ASCII nor the
	// section sign (0xa7).
	ErrNonASCIIPayload = mcquery.NewProtocolError("rcon", "non-ascii payload")

	// ErrAuthFailed is returned when the server rejects the password, signalled by a response
	// request ID of -1.
	ErrAuthFailed = mcquery.NewProtocolError("rcon", "authentication failed")

	// ErrInvalidPacketType is returned for a packet type that does not map to a [PacketType], or for
	// a known type where another was expected.
	ErrInvalidPacketType = mcquery.NewProtocolError("rcon", "invalid packet type")

	// ErrInvalidResponse is returned for a packet whose length field or termination is wrong.
	ErrInvalidResponse = mcquery.NewProtocolError("rcon", "invalid rcon response")

	// ErrPayloadTooLong is returned when a payload exceeds [MaxServerboundPayload] on the way out
	// or [MaxClientboundPayload] on the way in.
	ErrPayloadTooLong = mcquery.NewProtocolError("rcon", "payload too long")

	// ErrRequestIDMismatch is returned when a response carries a request ID other than the one
	// sent. A request ID of -1 is reported as [ErrAuthFailed] instead.
	ErrRequestIDMismatch = mcquery.NewProtocolError("rcon", "request id mismatch")
)

// PacketType indicates the purpose of a packet.
type PacketType int32

const (
	// PacketTypeResponse marks a server response carrying command output.
	PacketTypeResponse PacketType = 0

	// PacketTypeRunCommand marks a client request whose payload is a command to be executed. The
	// server also uses this type to answer a login request.
	PacketTypeRunCommand PacketType = 2

	// PacketTypeLogin marks a client request whose payload is the RCON password.
	PacketTypeLogin PacketType = 3
)

var packetTypeNames = map[PacketType]string{
	PacketTypeResponse:   "response",
	PacketTypeRunCommand: "run command",
	PacketTypeLogin:      "login",
}

// ParsePacketType maps the wire value v to a [PacketType]. Unknown values fail with
// [ErrInvalidPacketType].
func ParsePacketType(v int32) (PacketType, error) {
	t := PacketType(v)
	if _, ok := packetTypeNames[t]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPacketType, v)
	}
	return t, nil
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", int32(t))
}

// Packet is a singular RCON protocol packet, either as a request from a client or a response from
// a server.
type Packet struct {
	// ID is chosen by the client to correlate request packets with response packets. The server
	// replaces it with -1 to reject a login.
	ID int32

	// Type indicates the purpose of the packet.
	Type PacketType

	// Payload is the password, the command to be executed, or the server's output. It must be
	// ASCII, except that the byte 0xa7 is passed through untouched.
	Payload string
}

// Length returns the value of the length field that precedes the packet on the wire.
func (p Packet) Length() int32 {
	return int32(WrapperSize + len(p.Payload))
}

// MarshalBinary encodes the receiving [Packet] into binary form and returns the result. This
// satisfies the [encoding.BinaryMarshaler] interface.
func (p Packet) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > MaxClientboundPayload {
		return nil, ErrPayloadTooLong
	}
	if err := validatePayload(p.Payload); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 4+p.Length())
	b = binary.LittleEndian.AppendUint32(b, uint32(p.Length()))
	b = binary.LittleEndian.AppendUint32(b, uint32(p.ID))
	b = binary.LittleEndian.AppendUint32(b, uint32(p.Type))
	b = append(b, p.Payload...)
	b = append(b, 0, 0)

	return b, nil
}

// WriteTo writes a binary representation of the packet to [io.Writer] w. This method satisfies the
// [io.WriterTo] interface.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	bs, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)

	return int64(n), err
}

// UnmarshalBinary decodes the binary encoded packet b into the receiving [Packet]. This satisfies
// the [encoding.BinaryUnmarshaler] interface. Trailing bytes after the packet are rejected.
func (p *Packet) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	if _, err := p.ReadFrom(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidResponse, r.Len())
	}
	return nil
}

// ReadFrom reads a binary representation of a packet into the receiving [Packet] instance. This
// method satisfies the [io.ReaderFrom] interface.
//
// Exactly as many bytes as the length field announces are consumed, so a well framed but invalid
// packet leaves r positioned at the start of the next packet.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	n := int64(0)

	var lb [4]byte
	m, err := io.ReadFull(r, lb[:])
	n += int64(m)
	if err != nil {
		return n, err
	}
	length := int32(binary.LittleEndian.Uint32(lb[:]))

	// Ensure the length is within the bounds defined by the protocol before allocating.
	if length < WrapperSize {
		return n, fmt.Errorf("%w: length %d is smaller than %d", ErrInvalidResponse, length, WrapperSize)
	}
	if length > MaximumPacketSize {
		return n, fmt.Errorf("%w: length %d", ErrPayloadTooLong, length)
	}

	body := make([]byte, length)
	m, err = io.ReadFull(r, body)
	n += int64(m)
	if err != nil {
		return n, err
	}

	return n, p.decode(length, body)
}

// decode parses the part of a packet that follows the length field. Checks run in a fixed order:
// termination, length, payload content, then type.
func (p *Packet) decode(length int32, body []byte) error {
	id := int32(binary.LittleEndian.Uint32(body[0:4]))
	rawType := int32(binary.LittleEndian.Uint32(body[4:8]))
	rest := body[8:]

	end := bytes.IndexByte(rest, 0)
	if end < 0 || end+1 >= len(rest) {
		return fmt.Errorf("%w: payload is not terminated", ErrInvalidResponse)
	}
	if rest[end+1] != 0 {
		return fmt.Errorf("%w: pad byte is %#02x", ErrInvalidResponse, rest[end+1])
	}
	payload := rest[:end]

	if WrapperSize+int32(len(payload)) != length {
		return fmt.Errorf("%w: length %d does not match payload of %d bytes", ErrInvalidResponse, length, len(payload))
	}

	if err := validatePayload(string(payload)); err != nil {
		return err
	}

	t, err := ParsePacketType(rawType)
	if err != nil {
		return err
	}

	p.ID = id
	p.Type = t
	p.Payload = string(payload)
	return nil
}

// validatePayload ensures s only contains ASCII bytes or the section sign.
func validatePayload(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 && s[i] != sectionSign {
			return fmt.Errorf("%w: byte %#02x at offset %d", ErrNonASCIIPayload, s[i], i)
		}
	}
	return nil
}

// EqualTo determines if the provided Packet content matches the receiving Packet content.
func (p Packet) EqualTo(p2 Packet) bool {
	return p.ID == p2.ID && p.Type == p2.Type && p.Payload == p2.Payload
}
