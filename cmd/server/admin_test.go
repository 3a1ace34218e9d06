package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/instance"
	"shipcabin.ai/internal/sim/cabin/serial"
	"shipcabin.ai/internal/sim/world"
)

func newAdminFixture(t *testing.T) (*adminAPI, *http.ServeMux) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"harbor": "name: harbor\n",
		"ocean":  "name: ocean\nobjects:\n  - kind: ship\n    x: 1\n    y: 1\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	logger := log.New(io.Discard, "", 0)
	w, err := world.New(world.Config{
		ID:           "world_admin",
		MapsDir:      dir,
		PlayerDir:    "/players",
		DefaultSpawn: world.SpawnSpec{Map: "/harbor", X: 0, Y: 0},
		Preload:      []string{"/harbor", "/ocean"},
	}, nil, logger)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if _, err := w.Join("alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	o := cabin.New(w, serial.NewFileCounter(filepath.Join(dir, "serial.txt")),
		instance.New(instance.Config{Dir: dir, MapPrefix: "/ship-cabins"}), nil, cabin.Config{}, logger)

	saved := 0
	api := &adminAPI{
		world:    w,
		cabins:   o,
		sessions: func() int { return 2 },
		save: func() (string, error) {
			saved++
			if saved > 1 {
				return "", errors.New("disk full")
			}
			return "/data/world.snap.zst", nil
		},
	}
	mux := http.NewServeMux()
	api.register(mux)
	return api, mux
}

func do(t *testing.T, mux *http.ServeMux, method, target, remote string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
	}
	return rr, body
}

func TestAdminState(t *testing.T) {
	_, mux := newAdminFixture(t)
	rr, body := do(t, mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:5555")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if body["world_id"] != "world_admin" || body["sessions"] != float64(2) {
		t.Fatalf("unexpected state: %+v", body)
	}
	maps, _ := body["loaded_maps"].([]any)
	if len(maps) != 2 {
		t.Fatalf("loaded maps: %+v", body["loaded_maps"])
	}
	chars, _ := body["characters"].([]any)
	if len(chars) != 1 || chars[0].(map[string]any)["cabin_state"] != "idle" {
		t.Fatalf("characters: %+v", body["characters"])
	}
}

func TestAdminRejectsRemoteCallers(t *testing.T) {
	_, mux := newAdminFixture(t)
	rr, _ := do(t, mux, http.MethodGet, "/admin/v1/state", "203.0.113.9:5555")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminSnapshot(t *testing.T) {
	_, mux := newAdminFixture(t)
	if rr, _ := do(t, mux, http.MethodGet, "/admin/v1/snapshot", "127.0.0.1:1"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot: %d", rr.Code)
	}
	rr, body := do(t, mux, http.MethodPost, "/admin/v1/snapshot", "127.0.0.1:1")
	if rr.Code != http.StatusOK || body["path"] != "/data/world.snap.zst" {
		t.Fatalf("snapshot: %d %+v", rr.Code, body)
	}
	rr, body = do(t, mux, http.MethodPost, "/admin/v1/snapshot", "127.0.0.1:1")
	if rr.Code != http.StatusServiceUnavailable || body["error"] != "disk full" {
		t.Fatalf("failing snapshot: %d %+v", rr.Code, body)
	}
}

func TestAdminUnload(t *testing.T) {
	api, mux := newAdminFixture(t)
	rr, body := do(t, mux, http.MethodPost, "/admin/v1/unload?map=/ocean", "127.0.0.1:1")
	if rr.Code != http.StatusOK || body["map"] != "/ocean" {
		t.Fatalf("unload: %d %+v", rr.Code, body)
	}
	if got := api.world.LoadedMaps(); len(got) != 1 || got[0] != "/harbor" {
		t.Fatalf("loaded maps after unload: %v", got)
	}
	if rr, _ := do(t, mux, http.MethodPost, "/admin/v1/unload?map=/ocean", "127.0.0.1:1"); rr.Code != http.StatusNotFound {
		t.Fatalf("second unload: %d", rr.Code)
	}
	if rr, _ := do(t, mux, http.MethodPost, "/admin/v1/unload?map=/harbor", "127.0.0.1:1"); rr.Code != http.StatusConflict {
		t.Fatalf("occupied unload: %d", rr.Code)
	}
	if rr, _ := do(t, mux, http.MethodPost, "/admin/v1/unload", "127.0.0.1:1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing map: %d", rr.Code)
	}
}

func TestServerEnvAdminDefault(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	t.Setenv("CABIN_ADDR", ":9999")
	e, err := loadServerEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if e.adminEnabled() {
		t.Fatalf("admin should default off in production")
	}
	if e.Addr != ":9999" || e.IndexBackend != "sqlite" {
		t.Fatalf("unexpected env: %+v", e)
	}
	t.Setenv("CABIN_ENABLE_ADMIN_HTTP", "true")
	e, err = loadServerEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if !e.adminEnabled() {
		t.Fatalf("explicit CABIN_ENABLE_ADMIN_HTTP=true ignored")
	}
}
