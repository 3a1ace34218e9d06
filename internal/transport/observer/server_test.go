package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shipcabin.ai/internal/protocol"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/world"
)

func newTestObserver(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "harbor"), []byte("name: harbor\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	w, err := world.New(world.Config{
		ID:           "world_obs",
		MapsDir:      dir,
		PlayerDir:    "/players",
		DefaultSpawn: world.SpawnSpec{Map: "/harbor"},
		Preload:      []string{"/harbor"},
	}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	s := NewServer(w, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func subscribe(t *testing.T, s *Server, srv *httptest.Server, sub protocol.SubscribeMsg) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	sub.Type = protocol.TypeSubscribe
	sub.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestBootstrap(t *testing.T) {
	_, srv := newTestObserver(t)
	resp, err := http.Get(srv.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b protocol.ObserverBootstrap
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.WorldID != "world_obs" || len(b.LoadedMaps) != 1 || b.ArchetypeDigest == "" || len(b.Palette) == 0 {
		t.Fatalf("unexpected bootstrap: %+v", b)
	}
}

func TestFeedFiltersByActor(t *testing.T) {
	s, srv := newTestObserver(t)
	conn := subscribe(t, s, srv, protocol.SubscribeMsg{Actor: "alice"})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.RecordTransit(cabin.TransitEntry{Time: now, Actor: "bob", Trigger: cabin.TriggerEnter, Outcome: cabin.OutcomeEntered})
	s.RecordTransit(cabin.TransitEntry{
		Time: now, Actor: "alice", Trigger: cabin.TriggerExit, Outcome: cabin.OutcomeExited, Serial: 4,
		Destination: model.Location{Map: "/ocean", X: 3, Y: 4},
	})
	s.RecordInstance(cabin.InstanceEntry{Time: now, Serial: 4, Template: "cabin-template", MapPath: "/ship-cabins/cabin-4"})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var tr protocol.TransitMsg
	if err := conn.ReadJSON(&tr); err != nil {
		t.Fatalf("read transit: %v", err)
	}
	if tr.Type != protocol.TypeTransit || tr.Actor != "alice" || tr.Destination == nil || tr.Destination.Map != "/ocean" {
		t.Fatalf("unexpected transit: %+v", tr)
	}
	var in protocol.InstanceMsg
	if err := conn.ReadJSON(&in); err != nil {
		t.Fatalf("read instance: %v", err)
	}
	if in.Type != protocol.TypeInstance || in.Serial != 4 {
		t.Fatalf("unexpected instance: %+v", in)
	}
}

func TestFeedRequiresSubscribe(t *testing.T) {
	_, srv := newTestObserver(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close")
	}
}

func TestRecordWithoutSubscribersIsNoop(t *testing.T) {
	s, _ := newTestObserver(t)
	s.RecordTransit(cabin.TransitEntry{Actor: "x"})
	if s.Dropped() != 0 {
		t.Fatalf("dropped: %d", s.Dropped())
	}
}
