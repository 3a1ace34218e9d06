package world

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MapFile is the on-disk format of a map, templates and cabin instances included.
type MapFile struct {
	Name    string       `yaml:"name"`
	EnterX  int          `yaml:"enter_x"`
	EnterY  int          `yaml:"enter_y"`
	Width   int          `yaml:"width,omitempty"`
	Height  int          `yaml:"height,omitempty"`
	Unique  bool         `yaml:"unique,omitempty"`
	Objects []ObjectSpec `yaml:"objects,omitempty"`
}

type ObjectSpec struct {
	Kind      string            `yaml:"kind"`
	Name      string            `yaml:"name,omitempty"`
	Face      string            `yaml:"face,omitempty"`
	Message   string            `yaml:"message,omitempty"`
	X         int               `yaml:"x"`
	Y         int               `yaml:"y"`
	Keys      map[string]string `yaml:"keys,omitempty"`
	Inventory []ObjectSpec      `yaml:"inventory,omitempty"`
}

func (w *World) mapFilePath(p string) string {
	return filepath.Join(w.cfg.MapsDir, filepath.FromSlash(p))
}

func readMapFile(file string) (MapFile, error) {
	var mf MapFile
	b, err := os.ReadFile(file)
	if err != nil {
		return mf, err
	}
	if err := yaml.Unmarshal(b, &mf); err != nil {
		return mf, fmt.Errorf("map %s: %w", filepath.Base(file), err)
	}
	return mf, nil
}
