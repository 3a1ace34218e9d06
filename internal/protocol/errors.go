package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoNotJoined   = "E_PROTO_NOT_JOINED"
	ErrProtoBadVersion  = "E_PROTO_BAD_VERSION"
	ErrProtoUnknownType = "E_PROTO_UNKNOWN_TYPE"

	// World/object layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrOutOfReach    = "E_OUT_OF_REACH"
	ErrMapNotFound   = "E_MAP_NOT_FOUND"
	ErrInternal      = "E_INTERNAL"

	// Cabin failures that reach operators.
	ErrConfiguration     = "E_CONFIGURATION"
	ErrDuplicateInstance = "E_DUPLICATE_INSTANCE"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrProtoNotJoined:    {},
	ErrProtoBadVersion:   {},
	ErrProtoUnknownType:  {},
	ErrBadRequest:        {},
	ErrInvalidTarget:     {},
	ErrOutOfReach:        {},
	ErrMapNotFound:       {},
	ErrInternal:          {},
	ErrConfiguration:     {},
	ErrDuplicateInstance: {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
