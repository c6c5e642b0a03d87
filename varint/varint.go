// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Package varint implements the variable length 32-bit integer encoding used by the Minecraft
// network protocol, as described at https://wiki.vg/Protocol#VarInt_and_VarLong.
//
// Each encoded byte carries seven data bits, least significant group first, with the high bit set
// on every byte but the last. Values are treated as unsigned bit patterns, so negative numbers
// always take the full five bytes.
package varint

import (
	"io"

	"github.com/schultz-is/mcquery"
)

const (
	// MaxLen is the largest number of bytes a 32-bit VarInt can occupy.
	MaxLen = 5

	segmentBits = 0x7f
	continueBit = 0x80
)

// ErrInvalidVarInt is returned when a VarInt does not terminate within [MaxLen] bytes.
var ErrInvalidVarInt = mcquery.NewProtocolError("status", "invalid varint")

// Size returns the number of bytes needed to encode v.
func Size(v int32) int {
	u := uint32(v)
	n := 1
	for u >>= 7; u != 0; u >>= 7 {
		n++
	}
	return n
}

// Put encodes v into buf and returns the number of bytes written. It panics if buf is too small;
// a buffer of [MaxLen] bytes is always large enough.
func Put(buf []byte, v int32) int {
	u := uint32(v)
	n := 0
	for {
		b := byte(u & segmentBits)
		u >>= 7
		if u != 0 {
			b |= continueBit
		}
		buf[n] = b
		n++
		if u == 0 {
			return n
		}
	}
}

// Append appends the encoding of v to buf and returns the extended buffer.
func Append(buf []byte, v int32) []byte {
	var tmp [MaxLen]byte
	n := Put(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// Encode returns the encoding of v.
func Encode(v int32) []byte {
	return Append(make([]byte, 0, Size(v)), v)
}

// Write writes the encoding of v to w.
func Write(w io.Writer, v int32) (int, error) {
	var tmp [MaxLen]byte
	n := Put(tmp[:], v)
	return w.Write(tmp[:n])
}

// Read decodes a single VarInt from r, reading one byte at a time so that nothing past the VarInt
// is consumed. It returns the value along with the number of bytes read. If r is exhausted in the
// middle of a VarInt, [io.ErrUnexpectedEOF] is returned.
func Read(r io.Reader) (int32, int, error) {
	var (
		result uint32
		pos    uint
		n      int
		b      [1]byte
	)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if err == io.EOF && n > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, n, err
		}
		n++

		result |= uint32(b[0]&segmentBits) << pos
		if b[0]&continueBit == 0 {
			return int32(result), n, nil
		}

		pos += 7
		if pos >= 32 {
			return 0, n, ErrInvalidVarInt
		}
	}
}

// Decode decodes a VarInt from the start of buf, returning the value and the number of bytes it
// occupied.
func Decode(buf []byte) (int32, int, error) {
	var (
		result uint32
		pos    uint
	)
	for i, b := range buf {
		result |= uint32(b&segmentBits) << pos
		if b&continueBit == 0 {
			return int32(result), i + 1, nil
		}

		pos += 7
		if pos >= 32 {
			return 0, i + 1, ErrInvalidVarInt
		}
	}
	return 0, len(buf), io.ErrUnexpectedEOF
}
