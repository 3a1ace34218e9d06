package protocol

// Operator feed messages, served on /admin/v1/observer/*.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTransit   = "TRANSIT"
	TypeInstance  = "INSTANCE"
)

type ObserverBootstrap struct {
	ProtocolVersion string   `json:"protocol_version"`
	WorldID         string   `json:"world_id"`
	LoadedMaps      []string `json:"loaded_maps"`
	Palette         []string `json:"palette"`
	ArchetypeDigest string   `json:"archetype_digest"`
}

// SubscribeMsg narrows the feed. Zero values match everything.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Actor           string `json:"actor,omitempty"`
	Serial          uint64 `json:"serial,omitempty"`
}

type TransitMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Time            string    `json:"time"`
	Actor           string    `json:"actor"`
	Object          uint64    `json:"object"`
	Trigger         string    `json:"trigger"`
	Outcome         string    `json:"outcome"`
	Serial          uint64    `json:"serial,omitempty"`
	Destination     *Location `json:"destination,omitempty"`
	Source          string    `json:"source,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type InstanceMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Time            string   `json:"time"`
	Serial          uint64   `json:"serial"`
	Template        string   `json:"template"`
	MapPath         string   `json:"map_path"`
	Vessel          Location `json:"vessel"`
}
