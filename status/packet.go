// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package status

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/schultz-is/mcquery"
	"github.com/schultz-is/mcquery/varint"
)

const (
	// MaxStringLength is the largest byte length accepted for a string. The protocol caps strings at
	// 32767 UTF-16 code units, and each of those takes at most four bytes of UTF-8.
	MaxStringLength = 32767 * 4

	// MaxPacketSize is the largest value accepted for the length that precedes a packet.
	MaxPacketSize = 1 << 21
)

var (
	// ErrInvalidVarInt is returned when a VarInt read from the server does not terminate within five
	// bytes.
	ErrInvalidVarInt = varint.ErrInvalidVarInt

	// ErrInvalidState is returned by [ParsePacketID] for a value with no known packet ID.
	ErrInvalidState = mcquery.NewProtocolError("status", "invalid state")

	// ErrInvalidStatusResponse is returned when the server's reply has the wrong packet ID, is
	// malformed, or carries a payload that cannot be decoded.
	ErrInvalidStatusResponse = mcquery.NewProtocolError("status", "invalid status response")
)

// PacketID identifies a packet within the status exchange.
type PacketID int32

const (
	// PacketIDHandshake is shared by the handshake, the status request and the status response.
	PacketIDHandshake PacketID = 0

	// PacketIDStatus is the next state requested by the handshake. Ping and pong packets also carry
	// it as their ID.
	PacketIDStatus PacketID = 1
)

var packetIDNames = map[PacketID]string{
	PacketIDHandshake: "handshake",
	PacketIDStatus:    "status",
}

// ParsePacketID maps v to a [PacketID]. Unknown values fail with [ErrInvalidState].
func ParsePacketID(v int32) (PacketID, error) {
	id := PacketID(v)
	if _, ok := packetIDNames[id]; !ok {
		return 0, fmt.Errorf("%w: packet id %d", ErrInvalidState, v)
	}
	return id, nil
}

func (id PacketID) String() string {
	if name, ok := packetIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("PacketID(%d)", int32(id))
}

// Packet is a single length prefixed status protocol packet. On the wire it is the VarInt length
// of the rest of the packet, the VarInt packet ID, then the payload.
type Packet struct {
	ID      int32
	Payload []byte
}

// Length returns the value of the length prefix.
func (p Packet) Length() int {
	return varint.Size(p.ID) + len(p.Payload)
}

// MarshalBinary encodes the packet including its length prefix. This satisfies the
// [encoding.BinaryMarshaler] interface.
func (p Packet) MarshalBinary() ([]byte, error) {
	length := p.Length()
	if length > MaxPacketSize {
		return nil, fmt.Errorf("status: packet of %d bytes exceeds %d", length, MaxPacketSize)
	}

	b := make([]byte, 0, varint.Size(int32(length))+length)
	b = varint.Append(b, int32(length))
	b = varint.Append(b, p.ID)
	b = append(b, p.Payload...)
	return b, nil
}

// WriteTo writes the encoded packet to w. This satisfies the [io.WriterTo] interface.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom reads one packet from r. Exactly the number of bytes announced by the length prefix
// are consumed. This satisfies the [io.ReaderFrom] interface.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	length, n, err := varint.Read(r)
	if err != nil {
		return int64(n), err
	}
	if length < 1 || length > MaxPacketSize {
		return int64(n), fmt.Errorf("%w: packet length %d", ErrInvalidStatusResponse, length)
	}

	body := make([]byte, length)
	m, err := io.ReadFull(r, body)
	if err != nil {
		return int64(n + m), err
	}

	id, idLen, err := varint.Decode(body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: truncated packet id", ErrInvalidStatusResponse)
		}
		return int64(n + m), err
	}

	p.ID = id
	p.Payload = body[idLen:]
	return int64(n + m), nil
}

// Builder assembles the payload of an outbound packet field by field.
type Builder struct {
	id  PacketID
	buf []byte
}

// NewBuilder returns a [Builder] for a packet with the given ID.
func NewBuilder(id PacketID) *Builder {
	return &Builder{id: id}
}

// VarInt appends v as a VarInt.
func (b *Builder) VarInt(v int32) *Builder {
	b.buf = varint.Append(b.buf, v)
	return b
}

// String appends s as a length prefixed string.
func (b *Builder) String(s string) *Builder {
	b.buf = AppendString(b.buf, s)
	return b
}

// Uint16 appends v in big endian order.
func (b *Builder) Uint16(v uint16) *Builder {
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
	return b
}

// Int64 appends v in big endian order.
func (b *Builder) Int64(v int64) *Builder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
	return b
}

// Build returns the finished packet.
func (b *Builder) Build() Packet {
	return Packet{ID: int32(b.id), Payload: b.buf}
}

// AppendString appends s to buf as a VarInt byte length followed by the bytes of s.
func AppendString(buf []byte, s string) []byte {
	buf = varint.Append(buf, int32(len(s)))
	return append(buf, s...)
}

// ReadString reads a length prefixed string from r. Lengths outside [0, MaxStringLength] and
// strings that end early fail with [ErrInvalidStatusResponse].
func ReadString(r io.Reader) (string, error) {
	n, _, err := varint.Read(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: truncated string length", ErrInvalidStatusResponse)
		}
		return "", err
	}
	if n < 0 || n > MaxStringLength {
		return "", fmt.Errorf("%w: string length %d", ErrInvalidStatusResponse, n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: string shorter than its %d byte length", ErrInvalidStatusResponse, n)
	}
	return string(b), nil
}

// readPayloadString reads the single string making up payload. Trailing bytes are rejected.
func readPayloadString(payload []byte) (string, error) {
	r := bytes.NewReader(payload)
	s, err := ReadString(r)
	if err != nil {
		return "", err
	}
	if r.Len() != 0 {
		return "", fmt.Errorf("%w: %d trailing bytes", ErrInvalidStatusResponse, r.Len())
	}
	return s, nil
}
