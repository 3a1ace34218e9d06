package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"shipcabin.ai/internal/persistence/indexdb"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/world"
)

// adminAPI serves the local-only operator endpoints.
type adminAPI struct {
	world    *world.World
	cabins   *cabin.Orchestrator
	index    indexdb.Index
	sessions func() int
	// save writes a world snapshot and returns its path.
	save func() (string, error)
}

type stateResponse struct {
	WorldID    string            `json:"world_id"`
	LoadedMaps []string          `json:"loaded_maps"`
	Characters []characterState  `json:"characters"`
	Live       map[string]uint64 `json:"live_handles"`
	Sessions   int               `json:"sessions"`
	Index      any               `json:"index,omitempty"`
}

type characterState struct {
	Name  string `json:"name"`
	Map   string `json:"map"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	State string `json:"cabin_state"`
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.loopbackOnly(a.state))
	mux.HandleFunc("/admin/v1/snapshot", a.loopbackOnly(a.snapshot))
	mux.HandleFunc("/admin/v1/unload", a.loopbackOnly(a.unload))
}

func (a *adminAPI) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) state(rw http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		WorldID:    a.world.ID(),
		LoadedMaps: a.world.LoadedMaps(),
		Live:       map[string]uint64{},
	}
	for _, ch := range a.world.Characters() {
		resp.Characters = append(resp.Characters, characterState{
			Name:  ch.Name,
			Map:   ch.Loc.Map,
			X:     ch.Loc.X,
			Y:     ch.Loc.Y,
			State: a.cabins.State(ch.Name).String(),
		})
	}
	for k, id := range a.cabins.Tracker().Live() {
		resp.Live[k] = uint64(id)
	}
	if a.sessions != nil {
		resp.Sessions = a.sessions()
	}
	switch idx := a.index.(type) {
	case *indexdb.SQLiteIndex:
		resp.Index = idx.Stats()
	case *indexdb.RemoteIndex:
		resp.Index = idx.Stats()
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *adminAPI) snapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path, err := a.save()
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path})
}

func (a *adminAPI) unload(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := strings.TrimSpace(r.URL.Query().Get("map"))
	if p == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing map"})
		return
	}
	if err := a.world.Unload(p); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, world.ErrMapNotLoaded):
			status = http.StatusNotFound
		case errors.Is(err, world.ErrMapOccupied):
			status = http.StatusConflict
		}
		writeJSON(rw, status, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "map": world.CleanPath(p)})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
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
