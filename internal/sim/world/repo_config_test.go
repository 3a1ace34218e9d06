package world

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/catalogs"
	"shipcabin.ai/internal/sim/host"
)

func TestRepoConfigsLoad(t *testing.T) {
	root := filepath.Join("..", "..", "..", "configs")
	cats, err := catalogs.Load(root)
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	cfg, err := Load(filepath.Join(root, "world.yaml"))
	if err != nil {
		t.Fatalf("world.yaml: %v", err)
	}
	cfg.MapsDir = filepath.Join(root, "maps")

	w, err := New(cfg, cats, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := w.LoadedMaps(); len(got) != 2 {
		t.Fatalf("preloaded maps: %v", got)
	}

	m, ok := w.Ready("/ocean", host.MapShared)
	if !ok {
		t.Fatalf("ocean not ready")
	}
	galleon, ok := m.FindAt("ship", 30, 30)
	if !ok {
		t.Fatalf("no ship at 30,30")
	}
	door, ok := w.FindInInventory(galleon, "cabin door")
	if !ok {
		t.Fatalf("galleon has no cabin door")
	}
	if got := w.ReadKey(door, model.KeyTemplate); got != "galley" {
		t.Fatalf("galleon door template: %q", got)
	}

	for _, p := range []string{"/ship-cabins/cabin-template", "/ship-cabins/galley"} {
		if _, ok := w.Ready(p, host.MapShared); !ok {
			t.Fatalf("template %s does not load", p)
		}
	}
}
