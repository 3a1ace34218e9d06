package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/model"
)

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	at := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readJSONL(t, filepath.Join(dir, "x-2026-03-01-10.jsonl.zst"))
	second := readJSONL(t, filepath.Join(dir, "x-2026-03-01-11.jsonl.zst"))
	if len(first) != 1 || first[0]["n"] != float64(1) {
		t.Fatalf("first hour: %+v", first)
	}
	if len(second) != 1 || second[0]["n"] != float64(2) {
		t.Fatalf("second hour: %+v", second)
	}
}

func TestTransitLogger_SplitsStreams(t *testing.T) {
	dir := t.TempDir()
	l := NewTransitLogger(dir, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.transits.now = func() time.Time { return at }
	l.instances.now = func() time.Time { return at }

	l.RecordInstance(cabin.InstanceEntry{Time: at, Serial: 5, Template: "cabin-template", MapPath: "/ship-cabins/cabin-5"})
	l.RecordTransit(cabin.TransitEntry{
		Time: at, Actor: "alice", Trigger: cabin.TriggerCreate, Outcome: cabin.OutcomeEntered, Serial: 5,
		Destination: model.Location{Map: "/ship-cabins/cabin-5", X: 8, Y: 4},
	})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tr := readJSONL(t, filepath.Join(dir, "transits", "transits-2026-03-01-12.jsonl.zst"))
	if len(tr) != 1 || tr[0]["actor"] != "alice" || tr[0]["trigger"] != "create" {
		t.Fatalf("transits: %+v", tr)
	}
	dest, _ := tr[0]["destination"].(map[string]any)
	if dest["map"] != "/ship-cabins/cabin-5" {
		t.Fatalf("destination: %+v", tr[0]["destination"])
	}
	in := readJSONL(t, filepath.Join(dir, "instances", "instances-2026-03-01-12.jsonl.zst"))
	if len(in) != 1 || in[0]["serial"] != float64(5) || in[0]["map_path"] != "/ship-cabins/cabin-5" {
		t.Fatalf("instances: %+v", in)
	}
}
