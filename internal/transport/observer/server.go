// Package observer streams cabin activity to operators over a websocket.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"shipcabin.ai/internal/protocol"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	out chan []byte

	mu     sync.Mutex
	actor  string
	serial uint64
}

func (s *subscriber) set(sub protocol.SubscribeMsg) {
	s.mu.Lock()
	s.actor = strings.TrimSpace(sub.Actor)
	s.serial = sub.Serial
	s.mu.Unlock()
}

func (s *subscriber) wants(actor string, serial uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actor != "" && s.actor != actor {
		return false
	}
	return s.serial == 0 || s.serial == serial
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

// Dropped counts feed messages lost to slow subscribers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) RecordTransit(e cabin.TransitEntry) {
	msg := protocol.TransitMsg{
		Type:            protocol.TypeTransit,
		ProtocolVersion: protocol.Version,
		Time:            e.Time.UTC().Format(time.RFC3339Nano),
		Actor:           e.Actor,
		Object:          e.Object,
		Trigger:         string(e.Trigger),
		Outcome:         string(e.Outcome),
		Serial:          e.Serial,
		Source:          string(e.Source),
		Error:           e.Error,
	}
	if !e.Destination.IsZero() {
		msg.Destination = &protocol.Location{Map: e.Destination.Map, X: e.Destination.X, Y: e.Destination.Y}
	}
	s.broadcast(e.Actor, e.Serial, msg)
}

func (s *Server) RecordInstance(e cabin.InstanceEntry) {
	s.broadcast("", e.Serial, protocol.InstanceMsg{
		Type:            protocol.TypeInstance,
		ProtocolVersion: protocol.Version,
		Time:            e.Time.UTC().Format(time.RFC3339Nano),
		Serial:          e.Serial,
		Template:        e.Template,
		MapPath:         e.MapPath,
		Vessel:          protocol.Location{Map: e.Vessel.Map, X: e.Vessel.X, Y: e.Vessel.Y},
	})
}

// broadcast never blocks the interaction path.
func (s *Server) broadcast(actor string, serial uint64, v any) {
	s.mu.Lock()
	if len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, sub := range targets {
		// Instance messages have no actor; only a serial filter applies.
		if actor == "" {
			sub.mu.Lock()
			ok := sub.serial == 0 || sub.serial == serial
			sub.mu.Unlock()
			if !ok {
				continue
			}
		} else if !sub.wants(actor, serial) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := protocol.ObserverBootstrap{
			ProtocolVersion: protocol.Version,
			WorldID:         s.world.ID(),
			LoadedMaps:      s.world.LoadedMaps(),
		}
		if c := s.world.Catalogs(); c != nil {
			resp.Palette = c.Archetypes.Palette
			resp.ArchetypeDigest = c.Archetypes.Digest
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var first protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &first); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if first.Type != protocol.TypeSubscribe || first.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sub := &subscriber{out: make(chan []byte, 256)}
		sub.set(first)
		s.mu.Lock()
		s.subs[sid] = sub
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		if s.log != nil {
			s.log.Printf("observer %s subscribed actor=%q serial=%d", sid, first.Actor, first.Serial)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd protocol.SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != protocol.TypeSubscribe || upd.ProtocolVersion != protocol.Version {
				continue
			}
			sub.set(upd)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Subscribers returns the number of connected observers.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

var _ cabin.Recorder = (*Server)(nil)
