package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shipcabin.ai/internal/protocol"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/instance"
	"shipcabin.ai/internal/sim/cabin/serial"
	"shipcabin.ai/internal/sim/catalogs"
	"shipcabin.ai/internal/sim/host"
	"shipcabin.ai/internal/sim/world"
)

const testOcean = `name: ocean
width: 32
height: 32
objects:
  - kind: ship
    name: Sloop
    x: 10
    y: 20
    inventory:
      - kind: cabin_door
`

const testTemplate = `name: cabin-template
enter_x: 2
enter_y: 3
width: 8
height: 8
`

func newTestServer(t *testing.T) (*httptest.Server, *world.World) {
	t.Helper()
	dir := t.TempDir()
	cabins := filepath.Join(dir, "ship-cabins")
	if err := os.MkdirAll(cabins, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ocean"), []byte(testOcean), 0o644); err != nil {
		t.Fatalf("write ocean: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cabins, "cabin-template"), []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	w, err := world.New(world.Config{
		ID:           "world_test",
		MapsDir:      dir,
		PlayerDir:    "/players",
		DefaultSpawn: world.SpawnSpec{Map: "/ocean", X: 0, Y: 0},
	}, catalogs.Builtin(), logger)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	mat := instance.New(instance.Config{Dir: cabins, MapPrefix: "/ship-cabins", Placeholder: "template"})
	o := cabin.New(w, serial.NewFileCounter(filepath.Join(cabins, "ship-serial.txt")), mat, nil, cabin.Config{}, logger)

	srv := httptest.NewServer(NewServer(w, o, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, w
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	// events seen while waiting for replies.
	events []protocol.EventMsg
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next reads until a non-EVENT message arrives and decodes it into out.
func (c *client) next(out any) string {
	c.t.Helper()
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		if base.Type == protocol.TypeEvent {
			var ev protocol.EventMsg
			if err := json.Unmarshal(b, &ev); err != nil {
				c.t.Fatalf("event: %v", err)
			}
			c.events = append(c.events, ev)
			continue
		}
		if out != nil {
			if err := json.Unmarshal(b, out); err != nil {
				c.t.Fatalf("unmarshal %s: %v", base.Type, err)
			}
		}
		return base.Type
	}
}

func (c *client) hello(name string) protocol.WelcomeMsg {
	c.t.Helper()
	c.send(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Character: name})
	var w protocol.WelcomeMsg
	if typ := c.next(&w); typ != protocol.TypeWelcome {
		c.t.Fatalf("expected WELCOME, got %s", typ)
	}
	return w
}

func (c *client) look() protocol.ObjectsMsg {
	c.t.Helper()
	c.send(protocol.LookMsg{Type: protocol.TypeLook, ProtocolVersion: protocol.Version, ReqID: "look"})
	var m protocol.ObjectsMsg
	if typ := c.next(&m); typ != protocol.TypeObjects {
		c.t.Fatalf("expected OBJECTS, got %s", typ)
	}
	return m
}

func (c *client) interact(id uint64) (string, protocol.ResultMsg, protocol.ErrorMsg) {
	c.t.Helper()
	c.send(protocol.InteractMsg{Type: protocol.TypeInteract, ProtocolVersion: protocol.Version, ReqID: "i", ObjectID: id})
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var raw json.RawMessage
	typ := c.next(&raw)
	var res protocol.ResultMsg
	var em protocol.ErrorMsg
	switch typ {
	case protocol.TypeResult:
		_ = json.Unmarshal(raw, &res)
	case protocol.TypeError:
		_ = json.Unmarshal(raw, &em)
	}
	return typ, res, em
}

func TestEnterAndExitCabinOverWebsocket(t *testing.T) {
	srv, w := newTestServer(t)
	c := dial(t, srv)

	welcome := c.hello("alice")
	if welcome.SessionID == "" || welcome.WorldID != "world_test" || welcome.Location.Map != "/ocean" {
		t.Fatalf("unexpected welcome: %+v", welcome)
	}
	if welcome.ArchetypeDigest == "" {
		t.Fatalf("missing archetype digest")
	}

	objs := c.look()
	if len(objs.Objects) != 1 || len(objs.Objects[0].Inventory) != 1 {
		t.Fatalf("unexpected objects: %+v", objs)
	}
	ship := objs.Objects[0]
	door := ship.Inventory[0]
	if door.Kind != "cabin_door" || door.X != 10 || door.Y != 20 {
		t.Fatalf("unexpected door: %+v", door)
	}

	typ, res, em := c.interact(door.ID)
	if typ != protocol.TypeResult {
		t.Fatalf("expected RESULT, got %s (%+v)", typ, em)
	}
	if res.Trigger != "create" || res.Outcome != "entered" || res.Serial != 1 || res.Signal != "consume" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Destination == nil || *res.Destination != (protocol.Location{Map: "/ship-cabins/cabin-1", X: 2, Y: 3}) {
		t.Fatalf("unexpected destination: %+v", res.Destination)
	}
	var sawTeleport, sawEnter bool
	for _, ev := range c.events {
		if ev.Kind == "teleport" && ev.Location != nil && ev.Location.Map == "/ship-cabins/cabin-1" {
			sawTeleport = true
		}
		if ev.Kind == "message" && ev.Text == "You enter the ship's cabin." {
			sawEnter = true
		}
	}
	if !sawTeleport || !sawEnter {
		t.Fatalf("missing events: %+v", c.events)
	}

	// Sail the ship while alice is below deck.
	c.send(protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, ObjectID: ship.ID, To: protocol.Location{Map: "/ocean", X: 5, Y: 6}})
	var moved protocol.ResultMsg
	if typ := c.next(&moved); typ != protocol.TypeResult || moved.Outcome != "moved" {
		t.Fatalf("move: %s %+v", typ, moved)
	}

	inside := c.look()
	var exitID uint64
	for _, o := range inside.Objects {
		if o.Kind == "cabin_exit_door" {
			exitID = o.ID
		}
	}
	if exitID == 0 {
		t.Fatalf("no exit door in cabin: %+v", inside)
	}
	typ, res, em = c.interact(exitID)
	if typ != protocol.TypeResult {
		t.Fatalf("expected RESULT, got %s (%+v)", typ, em)
	}
	if res.Outcome != "exited" || res.Destination == nil || *res.Destination != (protocol.Location{Map: "/ocean", X: 5, Y: 6}) {
		t.Fatalf("unexpected exit result: %+v", res)
	}
	if at, _ := w.Where("alice"); at.Map != "/ocean" || at.X != 5 || at.Y != 6 {
		t.Fatalf("alice at %+v", at)
	}
}

func TestMoveAfterReloadMovesCabinExit(t *testing.T) {
	srv, w := newTestServer(t)
	c := dial(t, srv)
	c.hello("dora")

	door := c.look().Objects[0].Inventory[0]
	if typ, res, em := c.interact(door.ID); typ != protocol.TypeResult || res.Outcome != "entered" {
		t.Fatalf("enter: %s %+v %+v", typ, res, em)
	}

	// The ocean is dropped and reloaded while dora is below deck, so every handle
	// to the ship and its door is stale.
	if err := w.Unload("/ocean"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	ocean, ok := w.Ready("/ocean", host.MapShared)
	if !ok {
		t.Fatalf("reload ocean")
	}
	ship, ok := ocean.FindAt("ship", 10, 20)
	if !ok {
		t.Fatalf("ship missing after reload")
	}

	c.send(protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, ObjectID: uint64(ship), To: protocol.Location{Map: "/ocean", X: 7, Y: 8}})
	var moved protocol.ResultMsg
	if typ := c.next(&moved); typ != protocol.TypeResult || moved.Outcome != "moved" || moved.Serial != 1 {
		t.Fatalf("move: %s %+v", typ, moved)
	}

	var exitID uint64
	for _, o := range c.look().Objects {
		if o.Kind == "cabin_exit_door" {
			exitID = o.ID
		}
	}
	typ, res, em := c.interact(exitID)
	if typ != protocol.TypeResult {
		t.Fatalf("expected RESULT, got %s (%+v)", typ, em)
	}
	if res.Destination == nil || *res.Destination != (protocol.Location{Map: "/ocean", X: 7, Y: 8}) {
		t.Fatalf("exit landed at %+v, want the sailed position", res.Destination)
	}
}

func TestInteractErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	c.hello("bob")

	if typ, _, em := c.interact(0); typ != protocol.TypeError || em.Code != protocol.ErrBadRequest {
		t.Fatalf("zero id: %s %+v", typ, em)
	}
	if typ, _, em := c.interact(999999); typ != protocol.TypeError || em.Code != protocol.ErrInvalidTarget {
		t.Fatalf("unknown id: %s %+v", typ, em)
	}

	c.send(map[string]string{"type": "DANCE", "protocol_version": protocol.Version})
	var em protocol.ErrorMsg
	if typ := c.next(&em); typ != protocol.TypeError || em.Code != protocol.ErrProtoUnknownType {
		t.Fatalf("unknown type: %s %+v", typ, em)
	}
	if !protocol.IsKnownCode(em.Code) {
		t.Fatalf("unknown code %s", em.Code)
	}
}

func TestHandshakeRequiresHello(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	c.send(protocol.LookMsg{Type: protocol.TypeLook, ProtocolVersion: protocol.Version})
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to close")
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	c.send(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", Character: "carol"})
	var em protocol.ErrorMsg
	if typ := c.next(&em); typ != protocol.TypeError || em.Code != protocol.ErrProtoBadVersion {
		t.Fatalf("expected bad version error, got %s %+v", typ, em)
	}
}
