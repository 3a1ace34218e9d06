package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Character       string `json:"character"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	WorldID         string   `json:"world_id"`
	Character       string   `json:"character"`
	Location        Location `json:"location"`
	ArchetypeDigest string   `json:"archetype_digest,omitempty"`
}

type Location struct {
	Map string `json:"map"`
	X   int    `json:"x"`
	Y   int    `json:"y"`
}

// LOOK (client -> server): list what is on the character's map.
type LookMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
}

// OBJECTS (server -> client)
type ObjectsMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id,omitempty"`
	Map             string       `json:"map"`
	Objects         []ObjectView `json:"objects"`
}

type ObjectView struct {
	ID        uint64       `json:"id"`
	Kind      string       `json:"kind"`
	Name      string       `json:"name"`
	X         int          `json:"x"`
	Y         int          `json:"y"`
	Inventory []ObjectView `json:"inventory,omitempty"`
}

// INTERACT (client -> server): activate an object.
type InteractMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	ObjectID        uint64 `json:"object_id"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id,omitempty"`
	Signal          string    `json:"signal"`
	Trigger         string    `json:"trigger"`
	Outcome         string    `json:"outcome"`
	Serial          uint64    `json:"serial,omitempty"`
	Destination     *Location `json:"destination,omitempty"`
	Code            string    `json:"code,omitempty"`
	Message         string    `json:"message,omitempty"`
}

// MOVE (client -> server): sail a vessel to another position.
type MoveMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id,omitempty"`
	ObjectID        uint64   `json:"object_id"`
	To              Location `json:"to"`
}

// EVENT (server -> client): pushed messages and teleports.
type EventMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Kind            string    `json:"kind"`
	Text            string    `json:"text,omitempty"`
	Location        *Location `json:"location,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
