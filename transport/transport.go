// Copyright 2026 The Subsecond Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport implements the patch transport (spec.md §4.G): a
// WebSocket server bound to 127.0.0.1:3100 that broadcasts jump tables to
// every connected instance of the running fat binary, replays previously
// accumulated patches to late-joining subscribers, and receives each
// client's ASLR handshake.
package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shadr/subsecond/buildstats"
	"github.com/shadr/subsecond/devmsg"
	"github.com/shadr/subsecond/dlog"
)

// Addr is the fixed bind address the transport listens on (spec.md §6).
const Addr = "127.0.0.1:3100"

// queueCapacity is the bounded broadcast channel's per-subscriber capacity
// (spec.md §5, §9): adequate for human-paced hot-patching; the drop policy
// on overflow is drop-new, since the next build re-publishes anyway.
const queueCapacity = 100

// pollInterval is how often a subscriber's writer goroutine checks for new
// messages to flush — the "~20 Hz poll" / "50ms sleep" of spec.md §5.
const pollInterval = 50 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the patch transport. One Server is shared by every
// Orchestrator for a multi-target project (spec.md §4.H).
type Server struct {
	ASLRReference atomic.Uint64

	stats buildstats.Collector

	mu          sync.Mutex
	accumulated []devmsg.Msg
	subscribers map[*subscriber]struct{}

	httpServer *http.Server
}

type subscriber struct {
	ch     chan devmsg.Msg
	cursor int
}

// NewServer constructs a transport bound to Addr. stats may be nil, in
// which case buildstats.NoopCollector is used.
func NewServer(stats buildstats.Collector) *Server {
	if stats == nil {
		stats = buildstats.NoopCollector{}
	}
	return &Server{
		stats:       stats,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// ListenAndServe starts the WebSocket server; it blocks until the server
// errors or Close is called.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConn)
	s.httpServer = &http.Server{Addr: Addr, Handler: mux}
	return s.httpServer.ListenAndServe()
}

// Close shuts the server down and disconnects every subscriber.
func (s *Server) Close() error {
	s.mu.Lock()
	for sub := range s.subscribers {
		close(sub.ch)
	}
	s.subscribers = make(map[*subscriber]struct{})
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// handleConn performs the handshake (spec.md §6 "ws://127.0.0.1:3100/
// ?aslr_reference=<u64>") and then subscribes the connection to the
// broadcast channel, replaying accumulated messages first.
func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		dlog.Warnf("transport: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.handshake(r.URL)

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	// A reader goroutine drains (and discards) incoming frames purely to
	// notice the client disconnecting; the protocol is otherwise one-way.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			for {
				msg, ok := s.next(sub)
				if !ok {
					break
				}
				data, err := json.Marshal(msg)
				if err != nil {
					dlog.Errorf("transport: marshaling message: %v", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}
}

// handshake parses ?aslr_reference=<u64> (and ignores any other
// &-separated k/v pairs) and, if present and non-zero, stores it into the
// shared ASLR atomic (spec.md §4.G). A missing, malformed or zero value
// leaves the stored reference unchanged, so it stays 0 until some client
// reports a non-zero one.
func (s *Server) handshake(u *url.URL) {
	raw := u.Query().Get("aslr_reference")
	if raw == "" {
		return
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		dlog.Warnf("transport: malformed aslr_reference %q: %v", raw, err)
		return
	}
	if v != 0 {
		s.ASLRReference.Store(v)
		s.stats.AfterASLRHandshake("", v)
	}
}

func (s *Server) subscribe() *subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &subscriber{ch: make(chan devmsg.Msg, queueCapacity), cursor: 0}
	s.subscribers[sub] = struct{}{}
	for _, msg := range s.accumulated {
		select {
		case sub.ch <- msg:
		default: // queue full even on replay: drop-new, per §9.
		}
	}
	return sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}

// next drains one queued message for sub, non-blocking.
func (s *Server) next(sub *subscriber) (devmsg.Msg, bool) {
	select {
	case msg, ok := <-sub.ch:
		return msg, ok
	default:
		return devmsg.Msg{}, false
	}
}

// Publish broadcasts msg to every currently connected subscriber. A full
// subscriber queue drops the new message for that subscriber, with a
// warning logged (spec.md §5, §7.5), rather than blocking or retrying.
func (s *Server) Publish(msg devmsg.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Kind == devmsg.KindClearPatches {
		s.accumulated = nil
	} else {
		s.accumulated = append(s.accumulated, msg)
	}

	sent := 0
	for sub := range s.subscribers {
		select {
		case sub.ch <- msg:
			sent++
		default:
			dlog.Warnf("transport: subscriber queue full, dropping publish")
		}
	}
	s.stats.AfterPatchBroadcast("", sent)
}

// ClearPatches drains the replay queue so a FatRebuild is not shadowed by
// stale thin patches (spec.md §4.G, §6 stdin "R").
func (s *Server) ClearPatches() {
	s.Publish(devmsg.NewClearPatches())
}

// SubscriberCount reports how many clients are currently connected.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}
