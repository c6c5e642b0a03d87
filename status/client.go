// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package status

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/schultz-is/mcquery/internal/telemetry"
)

const (
	// DefaultTimeout bounds a whole exchange, from dial to the final read, when no other timeout is
	// configured.
	DefaultTimeout = 15 * time.Second

	// DefaultProtocolVersion is sent in the handshake when no other version is configured. Servers
	// answer status requests for any version, and -1 is the conventional "unknown".
	DefaultProtocolVersion = -1
)

// Dialer opens connections. [*net.Dialer] satisfies this interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client performs status exchanges. Each call opens its own connection, so a Client may be used
// from several goroutines at once.
type Client struct {
	dialer          Dialer
	timeout         time.Duration
	protocolVersion int32
	logger          *slog.Logger
	tracer          trace.Tracer
}

// NewClient returns a [Client] configured by config.
func NewClient(config ClientConfig) *Client {
	c := &Client{
		dialer:          config.Dialer,
		timeout:         config.Timeout,
		protocolVersion: config.ProtocolVersion,
		logger:          config.Logger,
		tracer:          telemetry.Tracer(config.TracerProvider),
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.protocolVersion == 0 {
		c.protocolVersion = DefaultProtocolVersion
	}
	return c
}

// Status asks the server at host and port for its status using a [Client] with the default
// configuration.
func Status(ctx context.Context, host string, port uint16) (*Response, error) {
	return NewClient(ClientConfig{}).Status(ctx, host, port)
}

// Ping measures the round trip latency to the server at host and port using a [Client] with the
// default configuration.
func Ping(ctx context.Context, host string, port uint16) (time.Duration, error) {
	return NewClient(ClientConfig{}).Ping(ctx, host, port)
}

// Status connects to the server at host and port, performs the handshake and status request, and
// decodes the JSON document the server answers with.
func (c *Client) Status(ctx context.Context, host string, port uint16) (resp *Response, err error) {
	ctx, span := telemetry.Start(ctx, c.tracer, "status.Status", host, port)
	defer func() { telemetry.End(span, err) }()

	err = c.exchange(ctx, host, port, func(conn net.Conn) error {
		data, err := c.requestStatus(ctx, conn, host, port)
		if err != nil {
			return err
		}

		resp, err = decodeResponse(data)
		if err != nil {
			return err
		}
		span.SetAttributes(
			attribute.Int("minecraft.protocol", resp.Version.Protocol),
			attribute.Int("minecraft.players.online", resp.Players.Online),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Ping connects to the server at host and port and, after the status request, sends a ping packet
// and waits for the server to echo it. The returned duration covers only the ping and its echo.
func (c *Client) Ping(ctx context.Context, host string, port uint16) (latency time.Duration, err error) {
	ctx, span := telemetry.Start(ctx, c.tracer, "status.Ping", host, port)
	defer func() { telemetry.End(span, err) }()

	err = c.exchange(ctx, host, port, func(conn net.Conn) error {
		if _, err := c.requestStatus(ctx, conn, host, port); err != nil {
			return err
		}

		start := time.Now()
		payload := start.UnixMilli()
		ping := NewBuilder(PacketIDStatus).Int64(payload).Build()
		if err := c.writePacket(ctx, conn, ping); err != nil {
			return err
		}

		pong, err := c.readPacket(ctx, conn)
		if err != nil {
			return err
		}
		latency = time.Since(start)

		if pong.ID != int32(PacketIDStatus) {
			return fmt.Errorf("%w: pong has packet id %d", ErrInvalidStatusResponse, pong.ID)
		}
		if string(pong.Payload) != string(ping.Payload) {
			return fmt.Errorf("%w: pong payload %x does not match %x", ErrInvalidStatusResponse, pong.Payload, ping.Payload)
		}
		span.SetAttributes(attribute.Int64("minecraft.latency_ms", latency.Milliseconds()))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return latency, nil
}

// exchange dials the server and runs op on the connection, all bounded by the client's timeout.
// The connection is closed afterwards whatever the outcome.
func (c *Client) exchange(ctx context.Context, host string, port uint16, op func(net.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("status: dial: %w", err)
	}
	defer conn.Close()

	ch := make(chan error, 1)
	go func() {
		ch <- op(conn)
	}()

	select {
	case <-ctx.Done():
		// Closing the conn unblocks op.
		_ = conn.Close()
		<-ch
		return fmt.Errorf("status: %w", ctx.Err())
	case err := <-ch:
		return err
	}
}

// requestStatus sends the handshake and the status request, then returns the string payload of
// the status response. The handshake repeats the host and port the connection was dialed for.
func (c *Client) requestStatus(ctx context.Context, conn net.Conn, host string, port uint16) (string, error) {
	handshake := NewBuilder(PacketIDHandshake).
		VarInt(c.protocolVersion).
		String(host).
		Uint16(port).
		VarInt(int32(PacketIDStatus)).
		Build()
	if err := c.writePacket(ctx, conn, handshake); err != nil {
		return "", err
	}

	if err := c.writePacket(ctx, conn, NewBuilder(PacketIDHandshake).Build()); err != nil {
		return "", err
	}

	resp, err := c.readPacket(ctx, conn)
	if err != nil {
		return "", err
	}
	if resp.ID != int32(PacketIDHandshake) {
		return "", fmt.Errorf("%w: status response has packet id %d", ErrInvalidStatusResponse, resp.ID)
	}
	return readPayloadString(resp.Payload)
}

func (c *Client) writePacket(ctx context.Context, conn net.Conn, p Packet) error {
	if c.logger != nil && c.logger.Handler().Enabled(ctx, slog.LevelDebug) {
		b, _ := p.MarshalBinary()
		c.logger.LogAttrs(ctx, slog.LevelDebug, "sending packet",
			slog.Int("id", int(p.ID)),
			slog.String("packet", hex.EncodeToString(b)),
		)
	}
	if _, err := p.WriteTo(conn); err != nil {
		return fmt.Errorf("status: write packet: %w", err)
	}
	return nil
}

func (c *Client) readPacket(ctx context.Context, conn net.Conn) (Packet, error) {
	var p Packet
	if _, err := p.ReadFrom(conn); err != nil {
		return p, fmt.Errorf("status: read packet: %w", err)
	}
	if c.logger != nil {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "received packet",
			slog.Int("id", int(p.ID)),
			slog.Int("length", p.Length()),
		)
	}
	return p, nil
}

// decodeResponse checks that data is valid UTF-8 and decodes it as a status document.
func decodeResponse(data string) (*Response, error) {
	if !utf8.ValidString(data) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidStatusResponse)
	}

	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatusResponse, err)
	}
	return &resp, nil
}

// ClientConfig contains settings for [Client] instances. The zero value is usable.
type ClientConfig struct {
	// Timeout bounds an entire exchange, dial included. On expiry the connection is abandoned. Zero
	// means [DefaultTimeout].
	Timeout time.Duration

	// Dialer opens connections. A nil Dialer uses a zero [net.Dialer].
	Dialer Dialer

	// ProtocolVersion is sent in the handshake. Zero means [DefaultProtocolVersion].
	ProtocolVersion int32

	// Logger receives packet level debug records. Nil disables logging.
	Logger *slog.Logger

	// TracerProvider supplies the tracer for client spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}
