// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package exporter

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// eventBuffer is the number of events a slow subscriber may fall behind before events are
// dropped for it.
const eventBuffer = 64

// Event describes the outcome of polling one target. Fields of requests that failed are omitted.
type Event struct {
	Target        string        `json:"target"`
	Time          time.Time     `json:"time"`
	Up            bool          `json:"up"`
	Version       string        `json:"version,omitempty"`
	Protocol      int           `json:"protocol,omitempty"`
	PlayersOnline int           `json:"players_online"`
	PlayersMax    int           `json:"players_max"`
	MOTD          string        `json:"motd,omitempty"`
	Latency       time.Duration `json:"latency_ns,omitempty"`
	QueryUp       *bool         `json:"query_up,omitempty"`
	Players       []string      `json:"players,omitempty"`
}

func newEvent(t Target, r *result, now time.Time) Event {
	ev := Event{Target: t.String(), Time: now}
	if r.status != nil {
		ev.Up = true
		ev.Version = r.status.Version.Name
		ev.Protocol = r.status.Version.Protocol
		ev.PlayersOnline = r.status.Players.Online
		ev.PlayersMax = r.status.Players.Max
		ev.MOTD = r.status.Description.String()
	}
	if r.pingOK {
		ev.Latency = r.latency
	}
	if t.QueryPort != 0 {
		up := r.query != nil
		ev.QueryUp = &up
		if up {
			ev.Players = r.query.Players
		}
	}
	return ev
}

// Subscribe returns a channel that receives an [Event] after every poll of every target, and a
// function that ends the subscription. Events are dropped when the channel is full.
func (e *Exporter) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
	}
}

func (e *Exporter) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveEvents streams events to a websocket client as JSON text messages until the client goes
// away.
func (e *Exporter) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := e.Subscribe()
	defer unsubscribe()

	// Reading is required to process control frames. The client sends nothing else.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
