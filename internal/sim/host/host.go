// Package host declares what the cabin system needs from the game server it runs in:
// a map loader, a movement primitive, per-object key/value storage and an object factory.
package host

import "shipcabin.ai/internal/sim/cabin/model"

// ObjectID is a handle into the host's registry of live objects. A handle stays
// valid only while the object's map is loaded; afterwards lookups miss.
type ObjectID uint64

// MapFlags selects how a map is readied.
type MapFlags int

const (
	// MapShared readies the one shared copy of a map.
	MapShared MapFlags = 0
	// MapUnique readies a per-character copy (maps under the player directory).
	MapUnique MapFlags = 2
)

// ObjectType mirrors the host's object type numbers.
type ObjectType int

const (
	TypeNone ObjectType = 0
	// TypeTransport marks vessels that relocate while characters ride them.
	TypeTransport ObjectType = 2
)

// ObjectInfo is the read-only view of an object.
type ObjectInfo struct {
	ID      ObjectID
	Kind    string
	Name    string
	Type    ObjectType
	Message string
}

// Map is a loaded map.
type Map interface {
	Path() string
	// Entry returns the map's declared entry coordinates.
	Entry() (x, y int)
	// FindAt returns the first object of kind at x,y.
	FindAt(kind string, x, y int) (ObjectID, bool)
}

// Maps loads maps into memory. Ready is idempotent and returns false when the map
// cannot be loaded.
type Maps interface {
	Ready(path string, flags MapFlags) (Map, bool)
}

// Objects is the host's object registry.
type Objects interface {
	Create(kind string) (ObjectID, error)
	Place(id ObjectID, m Map, x, y int) error
	Info(id ObjectID) (ObjectInfo, bool)
	ReadKey(id ObjectID, key string) string
	WriteKey(id ObjectID, key, value string, persistent bool) error
	// Locate returns where the object (or its outermost container) sits on a
	// loaded map. It reports false once that map is unloaded.
	Locate(id ObjectID) (model.Location, bool)
	FindInInventory(container ObjectID, name string) (ObjectID, bool)
}

// Spawn is a character's fallback destination.
type Spawn struct {
	model.Location
	Unique bool
}

// Characters moves and talks to player characters.
type Characters interface {
	SpawnPoint(name string) (Spawn, bool)
	Teleport(name string, m Map, x, y int) error
	Message(name, text string)
}

// Host bundles every collaborator the orchestrator calls.
type Host interface {
	Maps
	Objects
	Characters
}
