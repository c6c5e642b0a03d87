// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package exporter_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/schultz-is/mcquery/internal/exporter"
	"github.com/schultz-is/mcquery/query"
	"github.com/schultz-is/mcquery/status"
)

type fakeStatus struct {
	mu      sync.Mutex
	calls   int
	resp    *status.Response
	err     error
	latency time.Duration
	pingErr error
}

func (f *fakeStatus) Status(_ context.Context, host string, port uint16) (*status.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, f.err
}

func (f *fakeStatus) Ping(context.Context, string, uint16) (time.Duration, error) {
	return f.latency, f.pingErr
}

type fakeQuery struct {
	resp *query.FullStatResponse
	err  error
}

func (f *fakeQuery) FullStat(context.Context, string, uint16) (*query.FullStatResponse, error) {
	return f.resp, f.err
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// value returns the value of the gauge or counter called name whose labels include labels.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed unexpectedly: %s", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue(), true
			}
			return m.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func hasLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func newExporter(t *testing.T, config exporter.Config) (*exporter.Exporter, *prometheus.Registry) {
	t.Helper()

	e := exporter.New(config)
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(e); err != nil {
		t.Fatalf("Register() failed unexpectedly: %s", err)
	}
	return e, reg
}

func TestCollectBeforePoll(t *testing.T) {
	_, reg := newExporter(t, exporter.Config{
		Targets: []exporter.Target{{Host: "mc.example.com", Port: 25565, QueryPort: 25565}},
		Status:  &fakeStatus{},
		Query:   &fakeQuery{},
	})

	target := map[string]string{"target": "mc.example.com:25565"}
	if v, ok := value(t, reg, "mcquery_up", target); !ok || v != 0 {
		t.Fatalf("mcquery_up = %v (present %t), want 0", v, ok)
	}
	if v, ok := value(t, reg, "mcquery_query_up", target); !ok || v != 0 {
		t.Fatalf("mcquery_query_up = %v (present %t), want 0", v, ok)
	}
	if _, ok := value(t, reg, "mcquery_players_online", target); ok {
		t.Fatalf("mcquery_players_online reported without a poll")
	}
}

func TestPoll(t *testing.T) {
	st := &fakeStatus{
		resp: &status.Response{
			Version: status.Version{Name: "1.20.4", Protocol: 765},
			Players: status.Players{Max: 20, Online: 3},
		},
		latency: 15 * time.Millisecond,
	}
	q := &fakeQuery{resp: &query.FullStatResponse{Players: []string{"Notch", "jeb_"}}}

	e, reg := newExporter(t, exporter.Config{
		Targets: []exporter.Target{
			{Host: "a.example.com", Port: 25565, QueryPort: 25566},
			{Host: "b.example.com", Port: 25565},
		},
		Status: st,
		Query:  q,
	})
	e.Poll(context.Background())

	if st.calls != 2 {
		t.Fatalf("Status() called %d times, want 2", st.calls)
	}

	a := map[string]string{"target": "a.example.com:25565"}
	b := map[string]string{"target": "b.example.com:25565"}
	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"mcquery_up", a, 1},
		{"mcquery_up", b, 1},
		{"mcquery_players_online", a, 3},
		{"mcquery_players_max", a, 20},
		{"mcquery_ping_seconds", a, 0.015},
		{"mcquery_query_up", a, 1},
		{"mcquery_query_players", a, 2},
		{"mcquery_version_info", map[string]string{"target": "a.example.com:25565", "name": "1.20.4", "protocol": "765"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := value(t, reg, tt.name, tt.labels)
			if !ok || v != tt.want {
				t.Fatalf("%s%v = %v (present %t), want %v", tt.name, tt.labels, v, ok, tt.want)
			}
		})
	}

	if _, ok := value(t, reg, "mcquery_query_up", b); ok {
		t.Fatalf("mcquery_query_up reported for a target without a query port")
	}
}

func TestPollFailures(t *testing.T) {
	st := &fakeStatus{err: status.ErrInvalidStatusResponse, pingErr: timeoutError{}}
	q := &fakeQuery{err: errors.New("connection refused")}

	e, reg := newExporter(t, exporter.Config{
		Targets: []exporter.Target{{Host: "mc.example.com", Port: 25565, QueryPort: 25565}},
		Status:  st,
		Query:   q,
	})
	e.Poll(context.Background())
	e.Poll(context.Background())

	target := map[string]string{"target": "mc.example.com:25565"}
	if v, ok := value(t, reg, "mcquery_up", target); !ok || v != 0 {
		t.Fatalf("mcquery_up = %v (present %t), want 0", v, ok)
	}
	if v, ok := value(t, reg, "mcquery_query_up", target); !ok || v != 0 {
		t.Fatalf("mcquery_query_up = %v (present %t), want 0", v, ok)
	}
	if _, ok := value(t, reg, "mcquery_ping_seconds", target); ok {
		t.Fatalf("mcquery_ping_seconds reported after a failed ping")
	}

	tests := []struct {
		protocol string
		class    string
	}{
		{"status", "protocol"},
		{"ping", "transport"},
		{"query", "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			labels := map[string]string{"target": "mc.example.com:25565", "protocol": tt.protocol, "class": tt.class}
			if v, ok := value(t, reg, "mcquery_poll_errors_total", labels); !ok || v != 2 {
				t.Fatalf("mcquery_poll_errors_total%v = %v (present %t), want 2", labels, v, ok)
			}
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	st := &fakeStatus{resp: &status.Response{}}
	e := exporter.New(exporter.Config{
		Targets:  []exporter.Target{{Host: "mc.example.com", Port: 25565}},
		Status:   st,
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want %v", err, context.DeadlineExceeded)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.calls < 2 {
		t.Fatalf("Status() called %d times, want at least 2", st.calls)
	}
}

func TestHandler(t *testing.T) {
	e, reg := newExporter(t, exporter.Config{
		Targets: []exporter.Target{{Host: "mc.example.com", Port: 25565}},
		Status:  &fakeStatus{resp: &status.Response{Players: status.Players{Online: 7}}},
	})
	e.Poll(context.Background())

	srv := httptest.NewServer(exporter.Handler(e, reg))
	defer srv.Close()

	get := func(path string) string {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed unexpectedly: %s", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("Reading %s failed unexpectedly: %s", path, err)
		}
		return string(b)
	}

	if body := get("/healthz"); body != "ok\n" {
		t.Fatalf("GET /healthz = %q, want %q", body, "ok\n")
	}
	if body := get("/metrics"); !strings.Contains(body, `mcquery_players_online{target="mc.example.com:25565"} 7`) {
		t.Fatalf("GET /metrics lacks the players gauge:\n%s", body)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want exporter.Target
	}{
		{"mc.example.com", exporter.Target{Host: "mc.example.com", Port: 25565}},
		{"mc.example.com:25566", exporter.Target{Host: "mc.example.com", Port: 25566}},
		{"mc.example.com:25565/25575", exporter.Target{Host: "mc.example.com", Port: 25565, QueryPort: 25575}},
		{"mc.example.com/25565", exporter.Target{Host: "mc.example.com", Port: 25565, QueryPort: 25565}},
		{"[::1]:25570", exporter.Target{Host: "::1", Port: 25570}},
		{"::1", exporter.Target{Host: "::1", Port: 25565}},
		{"[::1]", exporter.Target{Host: "::1", Port: 25565}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := exporter.ParseTarget(tt.in, 25565)
			if err != nil {
				t.Fatalf("ParseTarget(%q) failed unexpectedly: %s", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}

	for _, in := range []string{"", ":25565", "[]", "mc.example.com:0", "mc.example.com:70000", "mc.example.com:x", "mc.example.com/0", "mc.example.com/q"} {
		if _, err := exporter.ParseTarget(in, 25565); err == nil {
			t.Fatalf("ParseTarget(%q) succeeded unexpectedly", in)
		}
	}
}

func TestSubscribe(t *testing.T) {
	e := exporter.New(exporter.Config{
		Targets: []exporter.Target{{Host: "mc.example.com", Port: 25565, QueryPort: 25565}},
		Status: &fakeStatus{resp: &status.Response{
			Version: status.Version{Name: "1.20.4", Protocol: 765},
			Players: status.Players{Max: 20, Online: 1},
		}},
		Query: &fakeQuery{err: errors.New("connection refused")},
	})

	events, unsubscribe := e.Subscribe()
	e.Poll(context.Background())

	ev := <-events
	if ev.Target != "mc.example.com:25565" || !ev.Up || ev.Version != "1.20.4" || ev.PlayersOnline != 1 {
		t.Fatalf("Event = %+v", ev)
	}
	if ev.QueryUp == nil || *ev.QueryUp {
		t.Fatalf("Event.QueryUp = %v, want false", ev.QueryUp)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatalf("Event channel still open after unsubscribing")
	}
	e.Poll(context.Background())
}

func TestEventsWebsocket(t *testing.T) {
	e, reg := newExporter(t, exporter.Config{
		Targets: []exporter.Target{{Host: "mc.example.com", Port: 25565}},
		Status:  &fakeStatus{resp: &status.Response{Players: status.Players{Online: 4, Max: 10}}},
	})

	srv := httptest.NewServer(exporter.Handler(e, reg))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("Dial() failed unexpectedly: %s", err)
	}
	defer conn.Close()

	// The subscription is set up after the handshake completes, so keep polling until an event
	// arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.Poll(context.Background())
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev exporter.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() failed unexpectedly: %s", err)
	}
	if ev.Target != "mc.example.com:25565" || !ev.Up || ev.PlayersOnline != 4 || ev.PlayersMax != 10 {
		t.Fatalf("Event = %+v", ev)
	}
	if ev.QueryUp != nil {
		t.Fatalf("Event.QueryUp = %v for a target without a query port", *ev.QueryUp)
	}
}
