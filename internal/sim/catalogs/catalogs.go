package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Catalogs holds the object archetypes the host world can instantiate.
type Catalogs struct {
	Archetypes ArchetypeCatalog
}

type ArchetypeCatalog struct {
	Palette []string
	Defs    map[string]Archetype
	Digest  string
	// Raw is the canonical JSON the digest was computed over.
	Raw []byte
}

type Archetype struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Face   string `json:"face,omitempty"`
	Type   int    `json:"type,omitempty"` // 2 = transport
	Unique bool   `json:"unique,omitempty"`
	// NoPick marks scenery characters cannot pick up or walk onto.
	NoPick bool `json:"no_pick,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadArchetypes(filepath.Join(configDir, "archetypes.json"), &c.Archetypes); err != nil {
		return nil, err
	}
	return &c, nil
}

// Builtin returns the archetypes every cabin deployment needs.
func Builtin() *Catalogs {
	defs := []Archetype{
		{ID: "ship", Name: "ship", Face: "ship.111", Type: 2, Unique: true},
		{ID: "cabin_door", Name: "cabin door", Face: "hatch.111", Unique: true},
		{ID: "cabin_exit_door", Name: "oak door", Face: "oakdoor_1.111", Unique: true, NoPick: true},
		{ID: "invis_exit", Name: "invisible exit", NoPick: true},
		{ID: "sign", Name: "sign", Face: "sign.111", NoPick: true},
	}
	var c Catalogs
	raw, _ := json.Marshal(defs)
	_ = fillArchetypes(raw, defs, &c.Archetypes)
	return &c
}

func (c *Catalogs) Archetype(id string) (Archetype, bool) {
	if c == nil {
		return Archetype{}, false
	}
	a, ok := c.Archetypes.Defs[id]
	return a, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadArchetypes(path string, out *ArchetypeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []Archetype
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("archetypes.json: %w", err)
	}
	return fillArchetypes(raw, defs, out)
}

func fillArchetypes(raw []byte, defs []Archetype, out *ArchetypeCatalog) error {
	out.Defs = map[string]Archetype{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("archetypes.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("archetypes.json: duplicate id %s", d.ID)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		out.Defs[d.ID] = d
	}
	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Raw = raw
	out.Digest = sha256Hex(raw)
	return nil
}
