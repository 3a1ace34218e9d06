package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shipcabin.ai/internal/protocol"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/host"
	"shipcabin.ai/internal/sim/world"
)

type Server struct {
	world  *world.World
	cabins *cabin.Orchestrator
	log    *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session // by character
}

type session struct {
	id        string
	character string
	out       chan []byte
}

// NewServer routes the world's events to connected sessions.
func NewServer(w *world.World, cabins *cabin.Orchestrator, logger *log.Logger) *Server {
	s := &Server{
		world:  w,
		cabins: cabins,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
	w.SetSink(s.route)
	return s
}

// Sessions returns the number of connected characters.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.detach(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply := s.dispatch(ctx, sess, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, errorMsg("", protocol.ErrProtoBadVersion, "bad protocol_version"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	name := strings.TrimSpace(hello.Character)
	if name == "" {
		_ = writeJSON(conn, errorMsg("", protocol.ErrProtoBadRequest, "missing character"))
		return nil
	}

	ch, err := s.world.Join(name)
	if err != nil {
		_ = writeJSON(conn, errorMsg("", protocol.ErrBadRequest, err.Error()))
		return nil
	}
	// Make sure the character stands on a loaded map.
	if _, ok := s.world.Ready(ch.Loc.Map, host.MapShared); !ok {
		s.printf("join %s: map %s unavailable", name, ch.Loc.Map)
	}

	sess := &session{
		id:        uuid.NewString(),
		character: ch.Name,
		out:       make(chan []byte, 32),
	}
	digest := ""
	if c := s.world.Catalogs(); c != nil {
		digest = c.Archetypes.Digest
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		WorldID:         s.world.ID(),
		Character:       ch.Name,
		Location:        toLocation(ch.Loc),
		ArchetypeDigest: digest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}

	s.mu.Lock()
	s.sessions[ch.Name] = sess
	s.mu.Unlock()
	s.printf("session %s joined character=%s", sess.id, ch.Name)
	return sess
}

func (s *Server) detach(sess *session) {
	s.mu.Lock()
	if cur := s.sessions[sess.character]; cur == sess {
		delete(s.sessions, sess.character)
	}
	s.mu.Unlock()
	s.printf("session %s left character=%s", sess.id, sess.character)
}

func (s *Server) dispatch(ctx context.Context, sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, "malformed message")
	}
	if base.ProtocolVersion != protocol.Version {
		return errorMsg(base.ReqID, protocol.ErrProtoBadVersion, "bad protocol_version")
	}
	switch base.Type {
	case protocol.TypeLook:
		return s.look(sess, base.ReqID)
	case protocol.TypeInteract:
		var m protocol.InteractMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.ReqID, protocol.ErrProtoBadRequest, "malformed INTERACT")
		}
		return s.interact(ctx, sess, m)
	case protocol.TypeMove:
		var m protocol.MoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.ReqID, protocol.ErrProtoBadRequest, "malformed MOVE")
		}
		return s.move(m)
	case protocol.TypeHello:
		return errorMsg(base.ReqID, protocol.ErrProtoBadRequest, "already joined")
	default:
		return errorMsg(base.ReqID, protocol.ErrProtoUnknownType, "unknown type "+base.Type)
	}
}

func (s *Server) look(sess *session, reqID string) any {
	at, ok := s.world.Where(sess.character)
	if !ok {
		return errorMsg(reqID, protocol.ErrProtoNotJoined, "character not joined")
	}
	placed, err := s.world.Look(at.Map)
	if err != nil {
		return errorMsg(reqID, protocol.ErrMapNotFound, err.Error())
	}
	out := protocol.ObjectsMsg{
		Type:            protocol.TypeObjects,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Map:             at.Map,
		Objects:         make([]protocol.ObjectView, 0, len(placed)),
	}
	for _, p := range placed {
		v := protocol.ObjectView{ID: uint64(p.ID), Kind: p.Kind, Name: p.Name, X: p.X, Y: p.Y}
		for _, in := range s.world.Inventory(p.ID) {
			v.Inventory = append(v.Inventory, protocol.ObjectView{ID: uint64(in.ID), Kind: in.Kind, Name: in.Name, X: p.X, Y: p.Y})
		}
		out.Objects = append(out.Objects, v)
	}
	return out
}

func (s *Server) interact(ctx context.Context, sess *session, m protocol.InteractMsg) any {
	if m.ObjectID == 0 {
		return errorMsg(m.ReqID, protocol.ErrBadRequest, "missing object_id")
	}
	id := host.ObjectID(m.ObjectID)
	if _, ok := s.world.Info(id); !ok {
		return errorMsg(m.ReqID, protocol.ErrInvalidTarget, "no such object")
	}
	if !s.world.Reachable(sess.character, id) {
		return errorMsg(m.ReqID, protocol.ErrOutOfReach, "object is not on your map")
	}

	res, err := s.cabins.Handle(ctx, cabin.Interaction{Actor: sess.character, Object: id})
	out := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Signal:          res.Signal.String(),
		Trigger:         string(res.Trigger),
		Outcome:         string(res.Outcome),
		Serial:          res.Serial,
	}
	if !res.Destination.IsZero() {
		loc := toLocation(res.Destination)
		out.Destination = &loc
	}
	if err != nil {
		out.Code = errorCode(err)
		out.Message = err.Error()
		s.printf("interact character=%s object=%d: %v", sess.character, m.ObjectID, err)
	}
	return out
}

func (s *Server) move(m protocol.MoveMsg) any {
	id := host.ObjectID(m.ObjectID)
	info, ok := s.world.Info(id)
	if !ok || m.ObjectID == 0 {
		return errorMsg(m.ReqID, protocol.ErrInvalidTarget, "no such object")
	}
	if info.Type != host.TypeTransport {
		return errorMsg(m.ReqID, protocol.ErrInvalidTarget, "object is not a vessel")
	}
	if strings.TrimSpace(m.To.Map) == "" {
		return errorMsg(m.ReqID, protocol.ErrBadRequest, "missing destination map")
	}
	if err := s.world.Move(id, m.To.Map, m.To.X, m.To.Y); err != nil {
		switch {
		case errors.Is(err, model.ErrMapUnavailable):
			return errorMsg(m.ReqID, protocol.ErrMapNotFound, err.Error())
		case errors.Is(err, world.ErrOutOfBounds):
			return errorMsg(m.ReqID, protocol.ErrBadRequest, err.Error())
		default:
			return errorMsg(m.ReqID, protocol.ErrInternal, err.Error())
		}
	}
	// The cabin's exit door follows the vessel even once its live handle is gone.
	ref := s.cabins.Refresh(id)
	loc, _ := s.world.Locate(id)
	dest := toLocation(loc)
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Signal:          cabin.Consume.String(),
		Trigger:         "move",
		Outcome:         "moved",
		Serial:          ref.Serial,
		Destination:     &dest,
	}
}

// route pushes a world event to the character's session, dropping it when the
// session's queue is full.
func (s *Server) route(ev world.Event) {
	s.mu.Lock()
	sess := s.sessions[ev.Character]
	s.mu.Unlock()
	if sess == nil {
		return
	}
	msg := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Kind:            ev.Kind,
		Text:            ev.Text,
	}
	if !ev.Location.IsZero() {
		loc := toLocation(ev.Location)
		msg.Location = &loc
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
		s.printf("session %s queue full; drop %s event", sess.id, ev.Kind)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrDuplicateInstance):
		return protocol.ErrDuplicateInstance
	case errors.Is(err, model.ErrConfiguration):
		return protocol.ErrConfiguration
	default:
		return protocol.ErrInternal
	}
}

func errorMsg(reqID, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	}
}

func toLocation(l model.Location) protocol.Location {
	return protocol.Location{Map: l.Map, X: l.X, Y: l.Y}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
