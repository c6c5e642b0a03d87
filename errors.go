// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package mcquery

import "errors"

// ProtocolError describes a peer that violated the wire protocol. Values of this type are only
// created as package level sentinels, so they should be compared with [errors.Is].
type ProtocolError struct {
	// Protocol names the protocol the error belongs to, e.g. "rcon".
	Protocol string

	// Kind is a short description of what was wrong.
	Kind string
}

// NewProtocolError returns a new [*ProtocolError] for protocol with the given kind.
func NewProtocolError(protocol, kind string) *ProtocolError {
	return &ProtocolError{Protocol: protocol, Kind: kind}
}

func (e *ProtocolError) Error() string {
	return e.Protocol + ": " + e.Kind
}

// IsProtocolError reports whether err, or any error it wraps, is a [*ProtocolError]. A false
// result means the failure came from the transport (dial, read, write, deadline) instead.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
