package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.snap.zst")
	in := WorldV1{
		Header: Header{Version: Version, WorldID: "harbor", SavedAt: "2026-10-19T00:00:00Z"},
		Maps: []MapV1{{
			Path: "/ocean",
			Objects: []ObjectV1{{
				Kind: "ship", Name: "Zephyr", Type: 2, X: 10, Y: 20,
				Inventory: []ObjectV1{{Kind: "cabin_door", Name: "cabin door", Keys: map[string]string{"ship_serial": "1"}}},
			}},
		}},
		Characters: []CharacterV1{{Name: "ann", Map: "/ship-cabins/cabin-1", X: 8, Y: 4, SpawnMap: "/harbor", SpawnX: 1, SpawnY: 1}},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if out.Header.WorldID != "harbor" || len(out.Maps) != 1 || len(out.Characters) != 1 {
		t.Fatalf("unexpected snapshot: %+v", out)
	}
	ship := out.Maps[0].Objects[0]
	if ship.Name != "Zephyr" || len(ship.Inventory) != 1 || ship.Inventory[0].Keys["ship_serial"] != "1" {
		t.Fatalf("ship mismatch: %+v", ship)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.snap.zst")
	if err := WriteSnapshot(path, WorldV1{Header: Header{Version: 99}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
