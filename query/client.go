// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package query

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/schultz-is/mcquery/internal/telemetry"
)

const (
	// DefaultTimeout bounds a whole call, retry included, when no other timeout is configured.
	DefaultTimeout = 5 * time.Second

	// DefaultStatTimeout is how long a stat response is awaited before the challenge token is
	// assumed to have expired.
	DefaultStatTimeout = 250 * time.Millisecond

	// maxDatagramSize is the largest UDP payload.
	maxDatagramSize = 65535
)

// errStaleToken marks a stat request that went unanswered within the stat timeout.
var errStaleToken = fmt.Errorf("query: stat response: %w", os.ErrDeadlineExceeded)

// Dialer opens connections. [*net.Dialer] satisfies this interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SessionIDSource returns random 32-bit values. The client masks them with [SessionIDMask] before
// use, so the source does not need to.
type SessionIDSource func() uint32

// Client performs query calls. Each call uses its own sockets, so a Client may be used from
// several goroutines at once.
type Client struct {
	dialer      Dialer
	timeout     time.Duration
	statTimeout time.Duration
	sessionIDs  SessionIDSource
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewClient returns a [Client] configured by config.
func NewClient(config ClientConfig) *Client {
	c := &Client{
		dialer:      config.Dialer,
		timeout:     config.Timeout,
		statTimeout: config.StatTimeout,
		sessionIDs:  config.SessionIDs,
		logger:      config.Logger,
		tracer:      telemetry.Tracer(config.TracerProvider),
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.statTimeout <= 0 {
		c.statTimeout = DefaultStatTimeout
	}
	if c.sessionIDs == nil {
		c.sessionIDs = rand.Uint32
	}
	return c
}

// BasicStat requests basic stats from the server at host and port using a [Client] with the
// default configuration.
func BasicStat(ctx context.Context, host string, port uint16) (*BasicStatResponse, error) {
	return NewClient(ClientConfig{}).BasicStat(ctx, host, port)
}

// FullStat requests full stats from the server at host and port using a [Client] with the default
// configuration.
func FullStat(ctx context.Context, host string, port uint16) (*FullStatResponse, error) {
	return NewClient(ClientConfig{}).FullStat(ctx, host, port)
}

// BasicStat performs a handshake with the server at host and port, then requests basic stats.
func (c *Client) BasicStat(ctx context.Context, host string, port uint16) (resp *BasicStatResponse, err error) {
	ctx, span := telemetry.Start(ctx, c.tracer, "query.BasicStat", host, port)
	defer func() { telemetry.End(span, err) }()

	err = c.call(ctx, span, host, port, false, func(b []byte, sessionID int32) error {
		resp, err = DecodeBasicStat(b, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FullStat performs a handshake with the server at host and port, then requests full stats,
// including the list of players online.
func (c *Client) FullStat(ctx context.Context, host string, port uint16) (resp *FullStatResponse, err error) {
	ctx, span := telemetry.Start(ctx, c.tracer, "query.FullStat", host, port)
	defer func() { telemetry.End(span, err) }()

	err = c.call(ctx, span, host, port, true, func(b []byte, sessionID int32) error {
		resp, err = DecodeFullStat(b, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// call runs the handshake and stat exchange, bounded by the client's timeout. A stat request that
// goes unanswered within the stat timeout most likely used a token that expired in between, so
// the whole exchange is repeated once on a fresh socket with a fresh session ID.
func (c *Client) call(
	ctx context.Context,
	span trace.Span,
	host string,
	port uint16,
	full bool,
	decode func(b []byte, sessionID int32) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	for attempt := 1; ; attempt++ {
		b, sessionID, err := c.exchange(ctx, address, full)
		if errors.Is(err, errStaleToken) && attempt == 1 {
			if c.logger != nil {
				c.logger.LogAttrs(ctx, slog.LevelWarn, "stat request unanswered, retrying with a new challenge token",
					slog.String("address", address),
					slog.Duration("stat_timeout", c.statTimeout),
				)
			}
			span.SetAttributes(attribute.Bool("query.retried", true))
			continue
		}
		if err != nil {
			return err
		}
		return decode(b, sessionID)
	}
}

// exchange dials address, obtains a challenge token, sends the stat request and returns the raw
// stat response along with the session ID it must echo.
func (c *Client) exchange(ctx context.Context, address string, full bool) ([]byte, int32, error) {
	conn, err := c.dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, 0, fmt.Errorf("query: dial: %w", err)
	}
	defer conn.Close()

	// Cancellation unblocks any pending read.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	ctxDeadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if err := conn.SetDeadline(ctxDeadline); err != nil {
			return nil, 0, fmt.Errorf("query: set deadline: %w", err)
		}
	}

	sessionID := int32(c.sessionIDs() & SessionIDMask)
	buf := make([]byte, maxDatagramSize)

	if err := c.send(ctx, conn, AppendHandshakeRequest(nil, sessionID)); err != nil {
		return nil, 0, c.transportErr(ctx, err)
	}
	b, err := c.receive(ctx, conn, buf)
	if err != nil {
		return nil, 0, c.transportErr(ctx, err)
	}
	token, err := DecodeHandshakeResponse(b, sessionID)
	if err != nil {
		return nil, 0, err
	}

	if err := c.send(ctx, conn, AppendStatRequest(nil, sessionID, token, full)); err != nil {
		return nil, 0, c.transportErr(ctx, err)
	}

	statDeadline := time.Now().Add(c.statTimeout)
	statBound := !hasDeadline || statDeadline.Before(ctxDeadline)
	if statBound {
		if err := conn.SetReadDeadline(statDeadline); err != nil {
			return nil, 0, fmt.Errorf("query: set deadline: %w", err)
		}
	}

	b, err = c.receive(ctx, conn, buf)
	if err != nil {
		var ne net.Error
		if statBound && ctx.Err() == nil && errors.As(err, &ne) && ne.Timeout() {
			return nil, 0, errStaleToken
		}
		return nil, 0, c.transportErr(ctx, err)
	}
	return b, sessionID, nil
}

func (c *Client) send(ctx context.Context, conn net.Conn, b []byte) error {
	c.logDatagram(ctx, "sending datagram", b)
	_, err := conn.Write(b)
	return err
}

// receive reads one datagram into buf and returns the part that was filled.
func (c *Client) receive(ctx context.Context, conn net.Conn, buf []byte) ([]byte, error) {
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	c.logDatagram(ctx, "received datagram", buf[:n])
	return buf[:n], nil
}

// transportErr reports err, unless the failure was caused by the call's context ending, in which
// case the context error is reported instead.
func (c *Client) transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("query: %w", ctxErr)
	}
	// The socket deadline can fire a moment before the context notices its own.
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return fmt.Errorf("query: %w", context.DeadlineExceeded)
	}
	return fmt.Errorf("query: %w", err)
}

func (c *Client) logDatagram(ctx context.Context, msg string, b []byte) {
	if c.logger == nil || !c.logger.Handler().Enabled(ctx, slog.LevelDebug) {
		return
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, msg,
		slog.String("datagram", hex.EncodeToString(b)),
	)
}

// ClientConfig contains settings for [Client] instances. The zero value is usable.
type ClientConfig struct {
	// Timeout bounds an entire call, including the single retry. Zero means [DefaultTimeout].
	Timeout time.Duration

	// StatTimeout is how long a stat response is awaited before the exchange is retried. Zero means
	// [DefaultStatTimeout].
	StatTimeout time.Duration

	// Dialer opens the UDP sockets. A nil Dialer uses a zero [net.Dialer].
	Dialer Dialer

	// SessionIDs supplies session IDs. Nil uses [math/rand/v2.Uint32].
	SessionIDs SessionIDSource

	// Logger receives datagram level debug records and a warning on retry. Nil disables logging.
	Logger *slog.Logger

	// TracerProvider supplies the tracer for client spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}
