// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/schultz-is/mcquery/internal/telemetry"
)

// DefaultClientTimeout is the default amount of time allowed for a client to complete a single
// operation, such as an authentication or a command round trip.
const DefaultClientTimeout = 15 * time.Second

const (
	// requestID is sent with every request. Replies are matched against it.
	requestID = 1

	// sentinelID marks the trailing packet written in sentinel mode.
	sentinelID = 2
)

// ErrClientClosed is returned by operations on a [Client] that was closed, either explicitly or
// because an earlier operation timed out and left the connection in an unknown state.
var ErrClientClosed = errors.New("rcon: client closed")

// Dialer opens connections. [*net.Dialer] satisfies this interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is an RCON client that manages a single connection to an RCON server. While the RCON
// protocol specifies transport over TCP, [NewClient] accepts anything that satisfies the
// [net.Conn] interface, which allows for TLS wrapping, Unix sockets, or a caller controlled conn
// used for debugging.
//
// A Client performs one operation at a time; concurrent calls are serialized.
//
// When an operation runs past its timeout the connection is closed, because the server's reply
// may still be in flight and would be mistaken for the answer to the next request. Every later
// call returns [ErrClientClosed].
type Client struct {
	// mu controls access to the underlying connection.
	mu sync.Mutex

	// conn is the underlying connection RCON messages are sent and received over.
	conn net.Conn

	// closed is set once conn has been closed.
	closed bool

	host string
	port uint16

	timeout                time.Duration
	logger                 *slog.Logger
	logOutboundAuthPackets bool
	sentinel               bool
	tracer                 trace.Tracer
}

// Dial connects to the RCON server at host and port and returns a [Client] using that connection.
// The configured timeout also bounds the dial. Dial does not authenticate; call
// [Client.Authenticate] next.
func Dial(ctx context.Context, host string, port uint16, config ClientConfig) (*Client, error) {
	dialer := config.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	ctx, cancel := context.WithTimeout(ctx, config.timeout())
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("rcon: dial: %w", err)
	}

	c := NewClient(conn, config)
	c.host, c.port = host, port
	return c, nil
}

// NewClient creates and returns a [Client] that uses conn as its transport, configured by the
// provided config.
//
// Once a conn is provided to a NewClient call, the conn should not be used outside of the client
// in order to ensure reliable message delivery.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	c := &Client{
		conn:                   conn,
		timeout:                config.timeout(),
		logger:                 config.Logger,
		logOutboundAuthPackets: config.LogOutboundAuthPackets,
		sentinel:               config.Sentinel,
		tracer:                 telemetry.Tracer(config.TracerProvider),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		if host, port, err := net.SplitHostPort(addr.String()); err == nil {
			p, _ := strconv.ParseUint(port, 10, 16)
			c.host, c.port = host, uint16(p)
		}
	}
	return c
}

// Close closes the receiving client's underlying connection. Closing an already closed client is
// a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if tc, ok := c.conn.(*net.TCPConn); ok {
		// Let the server see an orderly end of stream before the socket goes away.
		_ = tc.CloseWrite()
	}
	return c.conn.Close()
}

// Authenticate sends password to the RCON server to authorize the current session. A wrong
// password fails with [ErrAuthFailed].
func (c *Client) Authenticate(ctx context.Context, password string) (err error) {
	ctx, span := telemetry.Start(ctx, c.tracer, "rcon.Authenticate", c.host, c.port)
	defer func() { telemetry.End(span, err) }()

	req := Packet{ID: requestID, Type: PacketTypeLogin, Payload: password}
	if err := checkRequest(req); err != nil {
		return err
	}

	return c.do(ctx, func() error {
		if err := c.writePacket(ctx, req); err != nil {
			return err
		}

		resp, err := c.readPacket(ctx)
		if err != nil {
			return err
		}

		// Servers answer a login with a packet of the run command type.
		if resp.Type != PacketTypeRunCommand {
			return fmt.Errorf("%w: got %s in reply to login", ErrInvalidPacketType, resp.Type)
		}
		return checkResponseID(resp.ID)
	})
}

// RunCommand sends command to the server and returns its output.
//
// Output longer than [MaxClientboundPayload] arrives split over several packets. By default the
// end of the output is detected by a packet shorter than [MaxClientboundPayload], which is the
// best the protocol offers but fails for output that is an exact multiple of that size. With
// [ClientConfig.Sentinel] set, a trailing marker packet is sent instead and everything up to its
// reply is collected.
func (c *Client) RunCommand(ctx context.Context, command string) (output string, err error) {
	ctx, span := telemetry.Start(ctx, c.tracer, "rcon.RunCommand", c.host, c.port,
		attribute.Bool("rcon.sentinel", c.sentinel),
	)
	defer func() { telemetry.End(span, err) }()

	req := Packet{ID: requestID, Type: PacketTypeRunCommand, Payload: command}
	if err := checkRequest(req); err != nil {
		return "", err
	}

	err = c.do(ctx, func() error {
		if err := c.writePacket(ctx, req); err != nil {
			return err
		}
		if c.sentinel {
			if err := c.writePacket(ctx, Packet{ID: sentinelID, Type: PacketTypeResponse}); err != nil {
				return err
			}
		}

		var sb strings.Builder
		for packets := 1; ; packets++ {
			resp, err := c.readPacket(ctx)
			if err != nil {
				return err
			}

			if c.sentinel && resp.ID == sentinelID {
				span.SetAttributes(attribute.Int("rcon.response_packets", packets-1))
				break
			}
			if err := checkResponseID(resp.ID); err != nil {
				return err
			}
			sb.WriteString(resp.Payload)

			if !c.sentinel && len(resp.Payload) < MaxClientboundPayload {
				span.SetAttributes(attribute.Int("rcon.response_packets", packets))
				break
			}
		}

		output = sb.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return output, nil
}

// do runs op against the connection, bounded by the client's timeout. The op runs in its own
// goroutine so that a blocked read can be abandoned.
func (c *Client) do(ctx context.Context, op func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	ch := make(chan error, 1)
	go func() {
		ch <- op()
	}()

	select {
	case <-ctx.Done():
		// The exchange is in an unknown state; closing the conn also unblocks op.
		c.closed = true
		_ = c.conn.Close()
		<-ch
		if c.logger != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "rcon operation abandoned, connection closed",
				slog.String("error", ctx.Err().Error()),
			)
		}
		return fmt.Errorf("rcon: %w", ctx.Err())
	case err := <-ch:
		return err
	}
}

func (c *Client) writePacket(ctx context.Context, p Packet) error {
	c.logPacket(ctx, "sending packet", p)
	if _, err := p.WriteTo(c.conn); err != nil {
		return fmt.Errorf("rcon: write packet: %w", err)
	}
	return nil
}

func (c *Client) readPacket(ctx context.Context) (Packet, error) {
	var p Packet
	if _, err := p.ReadFrom(c.conn); err != nil {
		return p, fmt.Errorf("rcon: read packet: %w", err)
	}
	c.logPacket(ctx, "received packet", p)
	return p, nil
}

// checkRequest validates an outbound packet before anything is written.
func checkRequest(p Packet) error {
	if len(p.Payload) > MaxServerboundPayload {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLong, len(p.Payload), MaxServerboundPayload)
	}
	return validatePayload(p.Payload)
}

func checkResponseID(id int32) error {
	switch id {
	case requestID:
		return nil
	case -1:
		return ErrAuthFailed
	default:
		return fmt.Errorf("%w: got %d, want %d", ErrRequestIDMismatch, id, requestID)
	}
}

// logPacket sends a log record containing the provided log message and packet to the client's
// logger for handling. When the logger is nil or is not level set for debug records, this function
// is essentially a NOP. If the provided packet is an outbound login packet, its payload is
// obfuscated to prevent leaking a plaintext password into logs.
func (c *Client) logPacket(ctx context.Context, logMsg string, packet Packet) {
	// NOP if the client logger is nil or is not level set for debug log messages.
	if c.logger == nil || !c.logger.Handler().Enabled(ctx, slog.LevelDebug) {
		return
	}

	// Unless the client is explicitly configured to log outbound login packets, scrub the
	// password when applicable.
	if packet.Type == PacketTypeLogin && !c.logOutboundAuthPackets {
		packet.Payload = "xxxxx"
	}

	bs, err := packet.MarshalBinary()
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelError, "failed to marshal packet for logging", slog.String("error", err.Error()))
		return
	}

	c.logger.LogAttrs(ctx, slog.LevelDebug, logMsg,
		slog.Int("id", int(packet.ID)),
		slog.String("type", packet.Type.String()),
		slog.String("packet", hex.EncodeToString(bs)),
	)
}

// ClientConfig contains settings to control [Client] instances. The zero value is usable.
type ClientConfig struct {
	// Timeout limits the time a client can spend on a single operation, and on the dial in [Dial].
	// A value of zero will inform the client to use the [DefaultClientTimeout].
	Timeout time.Duration

	// Dialer opens the connection in [Dial]. A nil Dialer uses a zero [net.Dialer].
	Dialer Dialer

	// Logger receives log entries from a client. Nil disables logging.
	Logger *slog.Logger

	// LogOutboundAuthPackets is a flag that must be explicitly enabled when the client is created.
	// This field enables debug logging to include outbound login packets, exposing server passwords
	// in plaintext. When this field is false (the default value,) outbound login packets will be
	// sanitized to hide the password.
	//
	// WARNING: Only enable this flag if you are aware of the implications and are willing to accept
	// the risks!
	LogOutboundAuthPackets bool

	// Sentinel switches multi-packet response detection in [Client.RunCommand] from the packet
	// size heuristic to a trailing marker packet. Vanilla Minecraft servers answer the marker with a
	// single packet; servers that answer it with more than one should leave this disabled.
	Sentinel bool

	// TracerProvider supplies the tracer for client spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

func (cfg ClientConfig) timeout() time.Duration {
	if cfg.Timeout <= 0 {
		return DefaultClientTimeout
	}
	return cfg.Timeout
}
