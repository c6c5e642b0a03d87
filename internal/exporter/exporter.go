// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Package exporter polls Minecraft servers over the status and query protocols and exposes the
// results as Prometheus metrics.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/schultz-is/mcquery"
	"github.com/schultz-is/mcquery/query"
	"github.com/schultz-is/mcquery/status"
)

const (
	// DefaultInterval is the time between two polls of every target.
	DefaultInterval = 30 * time.Second

	// DefaultConcurrency is the number of targets polled at once.
	DefaultConcurrency = 8

	namespace = "mcquery"
)

// StatusProber is the part of [*status.Client] used by the exporter.
type StatusProber interface {
	Status(ctx context.Context, host string, port uint16) (*status.Response, error)
	Ping(ctx context.Context, host string, port uint16) (time.Duration, error)
}

// QueryProber is the part of [*query.Client] used by the exporter.
type QueryProber interface {
	FullStat(ctx context.Context, host string, port uint16) (*query.FullStatResponse, error)
}

// Target is a server to poll.
type Target struct {
	Host string
	Port uint16

	// QueryPort is the UDP port of the server's query listener. Zero skips the query probe.
	QueryPort uint16
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// result is the outcome of polling one target.
type result struct {
	status   *status.Response
	latency  time.Duration
	pingOK   bool
	query    *query.FullStatResponse
	duration time.Duration
}

// Exporter polls its targets in the background and reports the latest results when collected. It
// implements [prometheus.Collector].
type Exporter struct {
	targets     []Target
	status      StatusProber
	query       QueryProber
	interval    time.Duration
	concurrency int
	logger      *slog.Logger

	// results holds the latest result per target. Entries expire after a few missed polls so a
	// target that stops answering is reported down rather than frozen at its last values.
	results *cache.Cache

	// mu guards subscribers.
	mu          sync.Mutex
	subscribers map[chan Event]struct{}

	errors *prometheus.CounterVec

	up            *prometheus.Desc
	queryUp       *prometheus.Desc
	playersOnline *prometheus.Desc
	playersMax    *prometheus.Desc
	versionInfo   *prometheus.Desc
	latency       *prometheus.Desc
	duration      *prometheus.Desc
	queryPlayers  *prometheus.Desc
}

// New returns an [Exporter] configured by config.
func New(config Config) *Exporter {
	e := &Exporter{
		targets:     config.Targets,
		status:      config.Status,
		query:       config.Query,
		interval:    config.Interval,
		concurrency: config.Concurrency,
		logger:      config.Logger,
		subscribers: make(map[chan Event]struct{}),
	}
	if e.status == nil {
		e.status = status.NewClient(status.ClientConfig{Logger: e.logger})
	}
	if e.query == nil {
		e.query = query.NewClient(query.ClientConfig{Logger: e.logger})
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	e.results = cache.New(3*e.interval, 10*e.interval)

	labels := []string{"target"}
	e.up = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "up"),
		"Whether the last status request succeeded.", labels, nil)
	e.queryUp = prometheus.NewDesc(prometheus.BuildFQName(namespace, "query", "up"),
		"Whether the last full stat query succeeded.", labels, nil)
	e.playersOnline = prometheus.NewDesc(prometheus.BuildFQName(namespace, "players", "online"),
		"Number of players online as reported by the status response.", labels, nil)
	e.playersMax = prometheus.NewDesc(prometheus.BuildFQName(namespace, "players", "max"),
		"Player limit as reported by the status response.", labels, nil)
	e.versionInfo = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "version_info"),
		"Server version name and protocol number.", []string{"target", "name", "protocol"}, nil)
	e.latency = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "ping_seconds"),
		"Round trip time of the last ping.", labels, nil)
	e.duration = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "poll_duration_seconds"),
		"Time taken by the last poll of the target.", labels, nil)
	e.queryPlayers = prometheus.NewDesc(prometheus.BuildFQName(namespace, "query", "players"),
		"Number of player names listed in the last full stat response.", labels, nil)
	e.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_errors_total",
		Help:      "Failed requests by protocol and failure class.",
	}, []string{"target", "protocol", "class"})

	return e
}

// Run polls every target once immediately and then once per interval until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.Poll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll polls every target once, at most [Config.Concurrency] at a time, stores the results and
// publishes them to subscribers.
func (e *Exporter) Poll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, t := range e.targets {
		g.Go(func() error {
			r := e.poll(ctx, t)
			e.results.SetDefault(t.String(), r)
			e.publish(newEvent(t, r, time.Now()))
			return nil
		})
	}
	_ = g.Wait()
}

// poll runs the status, ping and query requests for t concurrently.
func (e *Exporter) poll(ctx context.Context, t Target) *result {
	var (
		r     result
		start = time.Now()
		g     errgroup.Group
	)

	g.Go(func() error {
		resp, err := e.status.Status(ctx, t.Host, t.Port)
		if err != nil {
			e.failed(ctx, t, "status", err)
			return nil
		}
		r.status = resp
		return nil
	})
	g.Go(func() error {
		latency, err := e.status.Ping(ctx, t.Host, t.Port)
		if err != nil {
			e.failed(ctx, t, "ping", err)
			return nil
		}
		r.latency, r.pingOK = latency, true
		return nil
	})
	if t.QueryPort != 0 {
		g.Go(func() error {
			resp, err := e.query.FullStat(ctx, t.Host, t.QueryPort)
			if err != nil {
				e.failed(ctx, t, "query", err)
				return nil
			}
			r.query = resp
			return nil
		})
	}
	_ = g.Wait()

	r.duration = time.Since(start)
	return &r
}

func (e *Exporter) failed(ctx context.Context, t Target, protocol string, err error) {
	class := "transport"
	if mcquery.IsProtocolError(err) {
		class = "protocol"
	}
	e.errors.WithLabelValues(t.String(), protocol, class).Inc()
	e.logger.LogAttrs(ctx, slog.LevelWarn, "poll failed",
		slog.String("target", t.String()),
		slog.String("protocol", protocol),
		slog.String("error", err.Error()),
	)
}

// Describe implements [prometheus.Collector].
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.queryUp
	ch <- e.playersOnline
	ch <- e.playersMax
	ch <- e.versionInfo
	ch <- e.latency
	ch <- e.duration
	ch <- e.queryPlayers
	e.errors.Describe(ch)
}

// Collect implements [prometheus.Collector]. Targets without a recent result are reported down.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, t := range e.targets {
		name := t.String()

		var r *result
		if v, ok := e.results.Get(name); ok {
			r = v.(*result)
		}
		if r == nil {
			ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, 0, name)
			if t.QueryPort != 0 {
				ch <- prometheus.MustNewConstMetric(e.queryUp, prometheus.GaugeValue, 0, name)
			}
			continue
		}

		ch <- prometheus.MustNewConstMetric(e.duration, prometheus.GaugeValue, r.duration.Seconds(), name)
		if r.status != nil {
			ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, 1, name)
			ch <- prometheus.MustNewConstMetric(e.playersOnline, prometheus.GaugeValue, float64(r.status.Players.Online), name)
			ch <- prometheus.MustNewConstMetric(e.playersMax, prometheus.GaugeValue, float64(r.status.Players.Max), name)
			ch <- prometheus.MustNewConstMetric(e.versionInfo, prometheus.GaugeValue, 1,
				name, r.status.Version.Name, strconv.Itoa(r.status.Version.Protocol))
		} else {
			ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, 0, name)
		}
		if r.pingOK {
			ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, r.latency.Seconds(), name)
		}
		if t.QueryPort != 0 {
			if r.query != nil {
				ch <- prometheus.MustNewConstMetric(e.queryUp, prometheus.GaugeValue, 1, name)
				ch <- prometheus.MustNewConstMetric(e.queryPlayers, prometheus.GaugeValue, float64(len(r.query.Players)), name)
			} else {
				ch <- prometheus.MustNewConstMetric(e.queryUp, prometheus.GaugeValue, 0, name)
			}
		}
	}
	e.errors.Collect(ch)
}

// Config contains settings for [Exporter] instances.
type Config struct {
	// Targets lists the servers to poll.
	Targets []Target

	// Status performs status and ping requests. Nil uses a [status.Client] with default settings.
	Status StatusProber

	// Query performs full stat requests. Nil uses a [query.Client] with default settings.
	Query QueryProber

	// Interval is the time between polls. Zero means [DefaultInterval]. Results older than three
	// intervals are dropped.
	Interval time.Duration

	// Concurrency limits the number of targets polled at once. Zero means [DefaultConcurrency].
	Concurrency int

	// Logger receives a warning for every failed request. Nil disables logging.
	Logger *slog.Logger
}

// ParseTarget parses "host", "host:port" or "host:port/queryport" into a [Target]. A missing port
// means defaultPort.
func ParseTarget(s string, defaultPort uint16) (Target, error) {
	var t Target

	addr := s
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		addr = s[:i]
		p, err := strconv.ParseUint(s[i+1:], 10, 16)
		if err != nil || p == 0 {
			return Target{}, fmt.Errorf("invalid query port in %q", s)
		}
		t.QueryPort = uint16(p)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port. Bare IPv6 addresses arrive here too, with or without brackets.
		host, port = addr, strconv.Itoa(int(defaultPort))
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	}
	if host == "" {
		return Target{}, fmt.Errorf("missing host in %q", s)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Target{}, fmt.Errorf("invalid port in %q", s)
	}
	t.Host, t.Port = host, uint16(p)
	return t, nil
}
