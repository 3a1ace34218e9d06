package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoNotJoined,
		ErrProtoBadVersion,
		ErrProtoUnknownType,
		ErrBadRequest,
		ErrInvalidTarget,
		ErrOutOfReach,
		ErrMapNotFound,
		ErrInternal,
		ErrConfiguration,
		ErrDuplicateInstance,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}
