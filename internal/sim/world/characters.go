package world

import (
	"fmt"
	"sort"
	"strings"

	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/host"
)

// Join returns the named character, creating it at the default spawn point on
// first sight.
func (w *World) Join(name string) (Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Character{}, fmt.Errorf("empty character name")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.chars[name]
	if ch == nil {
		spawn := model.Location{Map: w.cfg.DefaultSpawn.Map, X: w.cfg.DefaultSpawn.X, Y: w.cfg.DefaultSpawn.Y}
		ch = &Character{Name: name, Loc: spawn, Spawn: spawn}
		w.chars[name] = ch
	}
	return *ch, nil
}

func (w *World) Where(name string) (model.Location, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.chars[name]
	if ch == nil {
		return model.Location{}, false
	}
	return ch.Loc, true
}

func (w *World) Characters() []Character {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Character, 0, len(w.chars))
	for _, ch := range w.chars {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (w *World) SpawnPoint(name string) (host.Spawn, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.chars[name]
	if ch == nil || ch.Spawn.Map == "" {
		return host.Spawn{}, false
	}
	return host.Spawn{Location: ch.Spawn, Unique: w.underPlayerDir(ch.Spawn.Map)}, true
}

func (w *World) underPlayerDir(p string) bool {
	dir := w.cfg.PlayerDir
	return dir != "" && dir != "/" && strings.HasPrefix(p, dir+"/")
}

func (w *World) SetSpawn(name string, loc model.Location) error {
	loc.Map = CleanPath(loc.Map)
	if loc.Map == "" {
		return fmt.Errorf("spawn map is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.chars[name]
	if ch == nil {
		return ErrNoCharacter
	}
	ch.Spawn = loc
	return nil
}

func (w *World) Teleport(name string, hm host.Map, x, y int) error {
	m, ok := hm.(*Map)
	if !ok || m.w != w {
		return fmt.Errorf("%w: foreign map", ErrMapNotLoaded)
	}
	w.mu.Lock()
	ch := w.chars[name]
	if ch == nil {
		w.mu.Unlock()
		return ErrNoCharacter
	}
	if w.maps[m.path] != m {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMapNotLoaded, m.path)
	}
	if !m.inBounds(x, y) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s %d,%d", ErrOutOfBounds, m.path, x, y)
	}
	ch.Loc = model.Location{Map: m.path, X: x, Y: y}
	loc := ch.Loc
	w.mu.Unlock()

	w.emit(Event{Character: name, Kind: EventTeleport, Location: loc})
	return nil
}

func (w *World) Message(name, text string) {
	w.emit(Event{Character: name, Kind: EventMessage, Text: text})
}

// Reachable reports whether the object sits on the character's map, directly or
// inside a container.
func (w *World) Reachable(name string, id host.ObjectID) bool {
	loc, ok := w.Locate(id)
	if !ok {
		return false
	}
	at, ok := w.Where(name)
	return ok && at.Map == loc.Map
}
