package world

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ID string `yaml:"id"`
	// MapsDir is the directory map paths are resolved against.
	MapsDir string `yaml:"maps_dir"`
	// PlayerDir is the map path prefix of per-character unique maps.
	PlayerDir    string          `yaml:"player_dir"`
	DefaultSpawn SpawnSpec       `yaml:"default_spawn"`
	Preload      []string        `yaml:"preload,omitempty"`
	Characters   []CharacterSpec `yaml:"characters,omitempty"`
}

type SpawnSpec struct {
	Map string `yaml:"map"`
	X   int    `yaml:"x"`
	Y   int    `yaml:"y"`
}

type CharacterSpec struct {
	Name  string     `yaml:"name"`
	Spawn *SpawnSpec `yaml:"spawn,omitempty"`
}

func Load(p string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(p) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("world.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("world.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ID:           "world_1",
		MapsDir:      "./configs/maps",
		PlayerDir:    "/players",
		DefaultSpawn: SpawnSpec{Map: "/harbor", X: 1, Y: 1},
	}
}

// CleanPath turns a map reference into the canonical absolute map path.
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ID = strings.TrimSpace(c.ID)
	c.PlayerDir = CleanPath(c.PlayerDir)
	c.DefaultSpawn.Map = CleanPath(c.DefaultSpawn.Map)
	for i := range c.Preload {
		c.Preload[i] = CleanPath(c.Preload[i])
	}
	for i := range c.Characters {
		c.Characters[i].Name = strings.TrimSpace(c.Characters[i].Name)
		if c.Characters[i].Spawn != nil {
			c.Characters[i].Spawn.Map = CleanPath(c.Characters[i].Spawn.Map)
		}
	}
}

func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("empty id")
	}
	if strings.TrimSpace(c.MapsDir) == "" {
		return fmt.Errorf("empty maps_dir")
	}
	if c.DefaultSpawn.Map == "" {
		return fmt.Errorf("default_spawn.map is required")
	}
	seen := map[string]bool{}
	for _, ch := range c.Characters {
		if ch.Name == "" {
			return fmt.Errorf("character with empty name")
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate character %s", ch.Name)
		}
		seen[ch.Name] = true
		if ch.Spawn != nil && ch.Spawn.Map == "" {
			return fmt.Errorf("character %s: spawn.map is required", ch.Name)
		}
	}
	return nil
}
