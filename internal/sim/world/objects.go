package world

import (
	"fmt"

	"shipcabin.ai/internal/persistence/snapshot"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/host"
)

func (w *World) newObjectLocked() *Object {
	w.nextID++
	o := &Object{
		ID:         w.nextID,
		keys:       map[string]string{},
		persistent: map[string]bool{},
	}
	w.objects[o.ID] = o
	return o
}

func (w *World) fromArchetypeLocked(kind string) (*Object, error) {
	a, ok := w.cats.Archetype(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	o := w.newObjectLocked()
	o.Kind = a.ID
	o.Name = a.Name
	o.Face = a.Face
	o.Type = host.ObjectType(a.Type)
	o.Unique = a.Unique
	return o, nil
}

func (w *World) spawnLocked(spec ObjectSpec) (host.ObjectID, error) {
	o, err := w.fromArchetypeLocked(spec.Kind)
	if err != nil {
		return 0, err
	}
	if spec.Name != "" {
		o.Name = spec.Name
	}
	if spec.Face != "" {
		o.Face = spec.Face
	}
	o.Message = spec.Message
	for k, v := range spec.Keys {
		o.keys[k] = v
		o.persistent[k] = true
	}
	for _, child := range spec.Inventory {
		cid, err := w.spawnLocked(child)
		if err != nil {
			w.forgetLocked(o.ID)
			return 0, err
		}
		w.objects[cid].env = o.ID
		o.inv = append(o.inv, cid)
	}
	return o.ID, nil
}

func (w *World) restoreLocked(s snapshot.ObjectV1) host.ObjectID {
	o := w.newObjectLocked()
	o.Kind = s.Kind
	o.Name = s.Name
	o.Face = s.Face
	o.Type = host.ObjectType(s.Type)
	o.Message = s.Message
	o.Unique = s.Unique
	for k, v := range s.Keys {
		o.keys[k] = v
		o.persistent[k] = true
	}
	for _, child := range s.Inventory {
		cid := w.restoreLocked(child)
		w.objects[cid].env = o.ID
		o.inv = append(o.inv, cid)
	}
	return o.ID
}

func (w *World) exportLocked(o *Object) snapshot.ObjectV1 {
	out := snapshot.ObjectV1{
		Kind:    o.Kind,
		Name:    o.Name,
		Face:    o.Face,
		Type:    int(o.Type),
		Message: o.Message,
		Unique:  o.Unique,
		X:       o.x,
		Y:       o.y,
	}
	for k, v := range o.keys {
		if !o.persistent[k] {
			continue
		}
		if out.Keys == nil {
			out.Keys = map[string]string{}
		}
		out.Keys[k] = v
	}
	for _, cid := range o.inv {
		if c := w.objects[cid]; c != nil {
			out.Inventory = append(out.Inventory, w.exportLocked(c))
		}
	}
	return out
}

// putLocked sets an object down on a map, lifting it out of any container or
// other map first.
func (w *World) putLocked(m *Map, id host.ObjectID, x, y int) {
	o := w.objects[id]
	if o == nil {
		return
	}
	w.liftLocked(o)
	o.mapPath = m.path
	o.x, o.y = x, y
	m.objects = append(m.objects, id)
}

func (w *World) liftLocked(o *Object) {
	if o.env != 0 {
		if c := w.objects[o.env]; c != nil {
			c.inv = removeID(c.inv, o.ID)
		}
		o.env = 0
	}
	if o.mapPath != "" {
		if m := w.maps[o.mapPath]; m != nil {
			m.objects = removeID(m.objects, o.ID)
		}
		o.mapPath = ""
	}
}

func removeID(ids []host.ObjectID, id host.ObjectID) []host.ObjectID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func (w *World) Create(kind string) (host.ObjectID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.fromArchetypeLocked(kind)
	if err != nil {
		return 0, err
	}
	return o.ID, nil
}

func (w *World) Place(id host.ObjectID, hm host.Map, x, y int) error {
	m, ok := hm.(*Map)
	if !ok || m.w != w {
		return fmt.Errorf("%w: foreign map", ErrNotPlaceable)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maps[m.path] != m {
		return fmt.Errorf("%w: %s", ErrMapNotLoaded, m.path)
	}
	if w.objects[id] == nil {
		return ErrNoObject
	}
	if !m.inBounds(x, y) {
		return fmt.Errorf("%w: %s %d,%d", ErrOutOfBounds, m.path, x, y)
	}
	w.putLocked(m, id, x, y)
	return nil
}

// Move relocates a top-level object to x,y on another map, readying it first.
// Vessels sail this way.
func (w *World) Move(id host.ObjectID, p string, x, y int) error {
	p = CleanPath(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.objects[id] == nil {
		return ErrNoObject
	}
	m, err := w.readyLocked(p, host.MapShared)
	if err != nil {
		return fmt.Errorf("%w: %s", model.ErrMapUnavailable, p)
	}
	if !m.inBounds(x, y) {
		return fmt.Errorf("%w: %s %d,%d", ErrOutOfBounds, p, x, y)
	}
	w.putLocked(m, id, x, y)
	return nil
}

// AddToInventory puts item inside container.
func (w *World) AddToInventory(container, item host.ObjectID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, o := w.objects[container], w.objects[item]
	if c == nil || o == nil {
		return ErrNoObject
	}
	for e := c; e != nil; e = w.objects[e.env] {
		if e.ID == item {
			return ErrContainerLoop
		}
	}
	w.liftLocked(o)
	o.env = container
	c.inv = append(c.inv, item)
	return nil
}

func (w *World) Info(id host.ObjectID) (host.ObjectInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.objects[id]
	if o == nil {
		return host.ObjectInfo{}, false
	}
	return infoOf(o), true
}

func (w *World) ReadKey(id host.ObjectID, key string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.objects[id]
	if o == nil {
		return ""
	}
	return o.keys[trimKey(key)]
}

// WriteKey stores value under key. An empty value deletes the key. Persistent keys
// survive map unloads and snapshots.
func (w *World) WriteKey(id host.ObjectID, key, value string, persistent bool) error {
	key = trimKey(key)
	if key == "" {
		return fmt.Errorf("empty key")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.objects[id]
	if o == nil {
		return ErrNoObject
	}
	if value == "" {
		delete(o.keys, key)
		delete(o.persistent, key)
		return nil
	}
	o.keys[key] = value
	o.persistent[key] = persistent
	return nil
}

func (w *World) Locate(id host.ObjectID) (model.Location, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.objects[id]
	for o != nil && o.env != 0 {
		o = w.objects[o.env]
	}
	if o == nil || o.mapPath == "" || w.maps[o.mapPath] == nil {
		return model.Location{}, false
	}
	return model.Location{Map: o.mapPath, X: o.x, Y: o.y}, true
}

// FindInInventory looks for a direct child of container whose name or kind matches.
func (w *World) FindInInventory(container host.ObjectID, name string) (host.ObjectID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.objects[container]
	if c == nil {
		return 0, false
	}
	for _, id := range c.inv {
		if o := w.objects[id]; o != nil && (o.Name == name || o.Kind == name) {
			return id, true
		}
	}
	return 0, false
}

// Inventory lists the direct children of container.
func (w *World) Inventory(container host.ObjectID) []host.ObjectInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.objects[container]
	if c == nil {
		return nil
	}
	out := make([]host.ObjectInfo, 0, len(c.inv))
	for _, id := range c.inv {
		if o := w.objects[id]; o != nil {
			out = append(out, infoOf(o))
		}
	}
	return out
}

// Keys returns a copy of an object's key/value store.
func (w *World) Keys(id host.ObjectID) map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.objects[id]
	if o == nil {
		return nil
	}
	out := make(map[string]string, len(o.keys))
	for k, v := range o.keys {
		out[k] = v
	}
	return out
}
