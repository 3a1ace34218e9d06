package world

import (
	"fmt"
	"sort"
	"time"

	"shipcabin.ai/internal/persistence/snapshot"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/host"
)

// ExportSnapshot captures every map's persistent objects, loaded or not, and all
// characters.
func (w *World) ExportSnapshot(now time.Time) snapshot.WorldV1 {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := snapshot.WorldV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			SavedAt: now.UTC().Format(time.RFC3339),
		},
	}
	paths := make([]string, 0, len(w.maps)+len(w.saved))
	for p := range w.maps {
		paths = append(paths, p)
	}
	for p := range w.saved {
		if w.maps[p] == nil {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		mv := snapshot.MapV1{Path: p}
		if m := w.maps[p]; m != nil {
			for _, id := range m.objects {
				if o := w.objects[id]; o != nil {
					mv.Objects = append(mv.Objects, w.exportLocked(o))
				}
			}
		} else {
			mv.Objects = append(mv.Objects, w.saved[p]...)
		}
		snap.Maps = append(snap.Maps, mv)
	}
	for _, ch := range w.chars {
		snap.Characters = append(snap.Characters, snapshot.CharacterV1{
			Name:     ch.Name,
			Map:      ch.Loc.Map,
			X:        ch.Loc.X,
			Y:        ch.Loc.Y,
			SpawnMap: ch.Spawn.Map,
			SpawnX:   ch.Spawn.X,
			SpawnY:   ch.Spawn.Y,
		})
	}
	sort.Slice(snap.Characters, func(i, j int) bool { return snap.Characters[i].Name < snap.Characters[j].Name })
	return snap
}

// ImportSnapshot replaces the world's state. Maps come back lazily on the next
// Ready; object ids handed out before the import no longer resolve.
func (w *World) ImportSnapshot(snap snapshot.WorldV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world_id mismatch: %s != %s", snap.Header.WorldID, w.cfg.ID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.maps = map[string]*Map{}
	w.objects = map[host.ObjectID]*Object{}
	w.saved = make(map[string][]snapshot.ObjectV1, len(snap.Maps))
	for _, mv := range snap.Maps {
		p := CleanPath(mv.Path)
		if p == "" {
			continue
		}
		w.saved[p] = append([]snapshot.ObjectV1(nil), mv.Objects...)
	}
	for _, cv := range snap.Characters {
		w.chars[cv.Name] = &Character{
			Name:  cv.Name,
			Loc:   model.Location{Map: CleanPath(cv.Map), X: cv.X, Y: cv.Y},
			Spawn: model.Location{Map: CleanPath(cv.SpawnMap), X: cv.SpawnX, Y: cv.SpawnY},
		}
	}
	return nil
}
