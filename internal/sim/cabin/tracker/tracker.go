// Package tracker remembers where each cabin's vessel is. It keeps a weak handle to
// the vessel door while the vessel's map is loaded, and a backup position persisted
// on the cabin's exit door for when it is not.
package tracker

import (
	"strconv"
	"strings"
	"sync"

	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/host"
)

// Source tells which record a resolution came from.
type Source string

const (
	SourceLive   Source = "live"
	SourceBackup Source = "backup"
)

type Resolution struct {
	model.Location
	Source Source
}

type Tracker struct {
	objects host.Objects

	mu   sync.Mutex
	live map[string]host.ObjectID
}

func New(objects host.Objects) *Tracker {
	return &Tracker{objects: objects, live: map[string]host.ObjectID{}}
}

// RecordLive remembers door under key. Keys are serials or character names.
func (t *Tracker) RecordLive(key string, door host.ObjectID) {
	if key == "" || door == 0 {
		return
	}
	t.mu.Lock()
	t.live[key] = door
	t.mu.Unlock()
}

func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.live, key)
	t.mu.Unlock()
}

func (t *Tracker) lookup(key string) (host.ObjectID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.live[key]
	return id, ok
}

// Live returns a copy of the weak handle table.
func (t *Tracker) Live() map[string]host.ObjectID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]host.ObjectID, len(t.live))
	for k, v := range t.live {
		out[k] = v
	}
	return out
}

// RefreshBackup overwrites the backup position on exit. Zero locations are
// ignored; the backup is never cleared.
func (t *Tracker) RefreshBackup(exit host.ObjectID, loc model.Location) error {
	if loc.IsZero() || exit == 0 {
		return nil
	}
	for _, kv := range [][2]string{
		{model.KeyBackupMap, loc.Map},
		{model.KeyBackupX, strconv.Itoa(loc.X)},
		{model.KeyBackupY, strconv.Itoa(loc.Y)},
	} {
		if err := t.objects.WriteKey(exit, kv[0], kv[1], true); err != nil {
			return err
		}
	}
	return nil
}

// Backup reads the backup position stored on exit.
func (t *Tracker) Backup(exit host.ObjectID) (model.Location, bool) {
	m := strings.TrimSpace(t.objects.ReadKey(exit, model.KeyBackupMap))
	if m == "" {
		return model.Location{}, false
	}
	x, errX := strconv.Atoi(strings.TrimSpace(t.objects.ReadKey(exit, model.KeyBackupX)))
	y, errY := strconv.Atoi(strings.TrimSpace(t.objects.ReadKey(exit, model.KeyBackupY)))
	if errX != nil || errY != nil {
		return model.Location{}, false
	}
	return model.Location{Map: m, X: x, Y: y}, true
}

// Resolve finds the vessel of cabin serial. Live handles under serial and then
// extraKeys are tried first; a handle counts only while its door still resolves
// and carries the same serial. The backup on exit comes next.
func (t *Tracker) Resolve(serial string, exit host.ObjectID, extraKeys ...string) (Resolution, error) {
	for _, key := range append([]string{serial}, extraKeys...) {
		if key == "" {
			continue
		}
		door, ok := t.lookup(key)
		if !ok {
			continue
		}
		if t.objects.ReadKey(door, model.KeyShipSerial) != serial {
			continue
		}
		if loc, ok := t.objects.Locate(door); ok {
			return Resolution{Location: loc, Source: SourceLive}, nil
		}
	}
	if loc, ok := t.Backup(exit); ok {
		return Resolution{Location: loc, Source: SourceBackup}, nil
	}
	return Resolution{}, model.ErrUnresolvable
}
