// Package world is an in-memory game world: maps loaded from YAML files, objects
// with key/value stores, and characters. It implements the host contracts the cabin
// system runs against.
package world

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"shipcabin.ai/internal/persistence/snapshot"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/catalogs"
	"shipcabin.ai/internal/sim/host"
)

var (
	ErrNoObject      = errors.New("no such object")
	ErrNoCharacter   = errors.New("no such character")
	ErrUnknownKind   = errors.New("unknown archetype")
	ErrMapNotLoaded  = errors.New("map not loaded")
	ErrMapOccupied   = errors.New("map has characters on it")
	ErrOutOfBounds   = errors.New("position out of map bounds")
	ErrNotPlaceable  = errors.New("object cannot be placed")
	ErrContainerLoop = errors.New("object cannot contain itself")
)

// Event is pushed to the sink whenever a character is messaged or moved.
type Event struct {
	Character string
	Kind      string // "message" | "teleport"
	Text      string
	Location  model.Location
}

const (
	EventMessage  = "message"
	EventTeleport = "teleport"
)

type Object struct {
	ID      host.ObjectID
	Kind    string
	Name    string
	Face    string
	Type    host.ObjectType
	Message string
	Unique  bool

	keys       map[string]string
	persistent map[string]bool

	mapPath string
	x, y    int
	env     host.ObjectID
	inv     []host.ObjectID
}

type Map struct {
	w *World

	path   string
	name   string
	enterX int
	enterY int
	width  int
	height int
	unique bool

	objects []host.ObjectID
}

type Character struct {
	Name  string
	Loc   model.Location
	Spawn model.Location
}

type World struct {
	mu sync.Mutex

	cfg  Config
	cats *catalogs.Catalogs
	log  *log.Logger

	maps    map[string]*Map
	objects map[host.ObjectID]*Object
	nextID  host.ObjectID
	// saved keeps the persistent objects of maps that are not loaded.
	saved map[string][]snapshot.ObjectV1
	chars map[string]*Character

	sink func(Event)
}

var _ host.Host = (*World)(nil)

func New(cfg Config, cats *catalogs.Catalogs, logger *log.Logger) (*World, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cats == nil {
		cats = catalogs.Builtin()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags)
	}
	w := &World{
		cfg:     cfg,
		cats:    cats,
		log:     logger,
		maps:    map[string]*Map{},
		objects: map[host.ObjectID]*Object{},
		saved:   map[string][]snapshot.ObjectV1{},
		chars:   map[string]*Character{},
	}
	for _, ch := range cfg.Characters {
		spawn := cfg.DefaultSpawn
		if ch.Spawn != nil {
			spawn = *ch.Spawn
		}
		loc := model.Location{Map: spawn.Map, X: spawn.X, Y: spawn.Y}
		w.chars[ch.Name] = &Character{Name: ch.Name, Loc: loc, Spawn: loc}
	}
	for _, p := range cfg.Preload {
		if _, ok := w.Ready(p, host.MapShared); !ok {
			return nil, fmt.Errorf("preload map %s: not found", p)
		}
	}
	return w, nil
}

func (w *World) ID() string { return w.cfg.ID }

func (w *World) Catalogs() *catalogs.Catalogs { return w.cats }

// SetSink installs the receiver of character events. Events are delivered outside
// the world lock.
func (w *World) SetSink(fn func(Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink = fn
}

func (w *World) emit(ev Event) {
	w.mu.Lock()
	sink := w.sink
	w.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Ready loads a map if it is not already loaded. Objects come from the saved state
// of an earlier unload when there is one, else from the map file.
func (w *World) Ready(p string, flags host.MapFlags) (host.Map, bool) {
	p = CleanPath(p)
	if p == "" {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	m, err := w.readyLocked(p, flags)
	if err != nil {
		w.log.Printf("ready %s: %v", p, err)
		return nil, false
	}
	return m, true
}

func (w *World) readyLocked(p string, flags host.MapFlags) (*Map, error) {
	if m := w.maps[p]; m != nil {
		return m, nil
	}
	mf, err := readMapFile(w.mapFilePath(p))
	if err != nil {
		return nil, err
	}
	m := &Map{
		w:      w,
		path:   p,
		name:   mf.Name,
		enterX: mf.EnterX,
		enterY: mf.EnterY,
		width:  mf.Width,
		height: mf.Height,
		unique: mf.Unique || flags == host.MapUnique,
	}
	w.maps[p] = m
	if saved, ok := w.saved[p]; ok {
		for _, o := range saved {
			id := w.restoreLocked(o)
			w.putLocked(m, id, o.X, o.Y)
		}
		delete(w.saved, p)
		return m, nil
	}
	for _, spec := range mf.Objects {
		id, err := w.spawnLocked(spec)
		if err != nil {
			w.dropMapLocked(m)
			return nil, fmt.Errorf("map %s: %w", p, err)
		}
		w.putLocked(m, id, spec.X, spec.Y)
	}
	return m, nil
}

// Unload removes a map and every object on it from memory. Persistent keys survive
// and come back on the next Ready; handles to the old objects stop resolving.
func (w *World) Unload(p string) error {
	p = CleanPath(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.maps[p]
	if m == nil {
		return ErrMapNotLoaded
	}
	for _, ch := range w.chars {
		if ch.Loc.Map == p {
			return fmt.Errorf("%w: %s", ErrMapOccupied, ch.Name)
		}
	}
	saved := make([]snapshot.ObjectV1, 0, len(m.objects))
	for _, id := range m.objects {
		if o := w.objects[id]; o != nil {
			saved = append(saved, w.exportLocked(o))
		}
	}
	w.saved[p] = saved
	w.dropMapLocked(m)
	return nil
}

func (w *World) dropMapLocked(m *Map) {
	for _, id := range m.objects {
		w.forgetLocked(id)
	}
	delete(w.maps, m.path)
}

func (w *World) forgetLocked(id host.ObjectID) {
	o := w.objects[id]
	if o == nil {
		return
	}
	for _, child := range o.inv {
		w.forgetLocked(child)
	}
	delete(w.objects, id)
}

func (w *World) LoadedMaps() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.maps))
	for p := range w.maps {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *Map) Path() string { return m.path }

func (m *Map) Entry() (int, int) { return m.enterX, m.enterY }

func (m *Map) FindAt(kind string, x, y int) (host.ObjectID, bool) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	for _, id := range m.objects {
		o := m.w.objects[id]
		if o != nil && o.Kind == kind && o.x == x && o.y == y {
			return id, true
		}
	}
	return 0, false
}

func (m *Map) inBounds(x, y int) bool {
	if x < 0 || y < 0 {
		return false
	}
	if m.width > 0 && x >= m.width {
		return false
	}
	if m.height > 0 && y >= m.height {
		return false
	}
	return true
}

// Placed is an object on a map as seen by a character looking around.
type Placed struct {
	host.ObjectInfo
	X int
	Y int
}

// Look lists the top-level objects on a loaded map.
func (w *World) Look(p string) ([]Placed, error) {
	p = CleanPath(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.maps[p]
	if m == nil {
		return nil, ErrMapNotLoaded
	}
	out := make([]Placed, 0, len(m.objects))
	for _, id := range m.objects {
		o := w.objects[id]
		if o == nil {
			continue
		}
		out = append(out, Placed{ObjectInfo: infoOf(o), X: o.x, Y: o.y})
	}
	return out, nil
}

func infoOf(o *Object) host.ObjectInfo {
	return host.ObjectInfo{ID: o.ID, Kind: o.Kind, Name: o.Name, Type: o.Type, Message: o.Message}
}

func trimKey(k string) string { return strings.TrimSpace(k) }
