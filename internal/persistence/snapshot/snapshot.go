package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	SavedAt string `json:"saved_at"`
}

// WorldV1 is the durable state of the host world: every map's persistent objects
// (loaded or not) and the characters.
type WorldV1 struct {
	Header Header `json:"header"`

	Maps       []MapV1       `json:"maps"`
	Characters []CharacterV1 `json:"characters"`
}

type MapV1 struct {
	Path    string     `json:"path"`
	Objects []ObjectV1 `json:"objects"`
}

type ObjectV1 struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Face    string `json:"face,omitempty"`
	Type    int    `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Unique  bool   `json:"unique,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`

	// Only keys written with the persistent flag.
	Keys      map[string]string `json:"keys,omitempty"`
	Inventory []ObjectV1        `json:"inventory,omitempty"`
}

type CharacterV1 struct {
	Name     string `json:"name"`
	Map      string `json:"map"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	SpawnMap string `json:"spawn_map"`
	SpawnX   int    `json:"spawn_x"`
	SpawnY   int    `json:"spawn_y"`
}

func WriteSnapshot(path string, snap WorldV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap WorldV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (WorldV1, error) {
	var snap WorldV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is for humans and tooling; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
