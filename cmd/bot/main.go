package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"shipcabin.ai/internal/protocol"
)

// bot joins, boards the first vessel it sees through its cabin door, then leaves
// the cabin again through the exit door.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "character name")
		doorKind = flag.String("door_kind", "cabin_door", "cabin door archetype")
		exitKind = flag.String("exit_kind", "cabin_exit_door", "cabin exit archetype")
		stay     = flag.Duration("stay", 2*time.Second, "time spent inside the cabin")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	b := &bot{conn: conn, log: logger}
	if err := b.send(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Character: *name}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := b.expect(protocol.TypeWelcome, &welcome); err != nil {
		logger.Fatalf("WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s world=%s at=%s@%d,%d", welcome.SessionID, welcome.WorldID, welcome.Location.Map, welcome.Location.X, welcome.Location.Y)

	objs, err := b.look()
	if err != nil {
		logger.Fatalf("LOOK: %v", err)
	}
	door, ok := findDoor(objs, *doorKind)
	if !ok {
		logger.Fatalf("no %s on %s", *doorKind, objs.Map)
	}
	res, err := b.interact(door)
	if err != nil {
		logger.Fatalf("enter: %v", err)
	}
	logger.Printf("enter: outcome=%s serial=%d destination=%v", res.Outcome, res.Serial, res.Destination)
	if res.Outcome != "entered" {
		os.Exit(1)
	}

	time.Sleep(*stay)

	objs, err = b.look()
	if err != nil {
		logger.Fatalf("LOOK: %v", err)
	}
	exit, ok := findTop(objs, *exitKind)
	if !ok {
		logger.Fatalf("no %s in cabin %s", *exitKind, objs.Map)
	}
	res, err = b.interact(exit)
	if err != nil {
		logger.Fatalf("exit: %v", err)
	}
	logger.Printf("exit: trigger=%s outcome=%s destination=%v", res.Trigger, res.Outcome, res.Destination)
}

type bot struct {
	conn *websocket.Conn
	log  *log.Logger
	seq  int
}

func (b *bot) send(v any) error { return b.conn.WriteJSON(v) }

// expect reads until a message of type typ arrives, logging events on the way.
func (b *bot) expect(typ string, out any) error {
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case typ:
			return json.Unmarshal(msg, out)
		case protocol.TypeEvent:
			var ev protocol.EventMsg
			if json.Unmarshal(msg, &ev) == nil {
				b.log.Printf("EVENT %s %s", ev.Kind, ev.Text)
			}
		case protocol.TypeError:
			var em protocol.ErrorMsg
			_ = json.Unmarshal(msg, &em)
			return fmt.Errorf("%s: %s", em.Code, em.Message)
		}
	}
}

func (b *bot) reqID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", prefix, b.seq)
}

func (b *bot) look() (protocol.ObjectsMsg, error) {
	var out protocol.ObjectsMsg
	if err := b.send(protocol.LookMsg{Type: protocol.TypeLook, ProtocolVersion: protocol.Version, ReqID: b.reqID("look")}); err != nil {
		return out, err
	}
	err := b.expect(protocol.TypeObjects, &out)
	return out, err
}

func (b *bot) interact(id uint64) (protocol.ResultMsg, error) {
	var out protocol.ResultMsg
	if err := b.send(protocol.InteractMsg{Type: protocol.TypeInteract, ProtocolVersion: protocol.Version, ReqID: b.reqID("interact"), ObjectID: id}); err != nil {
		return out, err
	}
	if err := b.expect(protocol.TypeResult, &out); err != nil {
		return out, err
	}
	if out.Code != "" {
		return out, fmt.Errorf("%s: %s", out.Code, out.Message)
	}
	return out, nil
}

func findDoor(objs protocol.ObjectsMsg, kind string) (uint64, bool) {
	for _, o := range objs.Objects {
		for _, in := range o.Inventory {
			if in.Kind == kind {
				return in.ID, true
			}
		}
	}
	return 0, false
}

func findTop(objs protocol.ObjectsMsg, kind string) (uint64, bool) {
	for _, o := range objs.Objects {
		if o.Kind == kind {
			return o.ID, true
		}
	}
	return 0, false
}
