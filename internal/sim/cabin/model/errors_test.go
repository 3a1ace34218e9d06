package model

import (
	"errors"
	"os"
	"testing"
)

func TestConfigError_Is(t *testing.T) {
	err := &ConfigError{What: "read serial counter", Path: "/tmp/x", Err: os.ErrPermission}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration")
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected wrapped cause")
	}
	if got := err.Error(); got != "read serial counter (/tmp/x): permission denied" {
		t.Fatalf("message: %q", got)
	}
}

func TestDuplicateError_Is(t *testing.T) {
	err := &DuplicateError{Serial: 7, Path: "maps/ship-cabins/cabin-7"}
	if !errors.Is(err, ErrDuplicateInstance) {
		t.Fatalf("expected ErrDuplicateInstance")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Fatalf("duplicate must not read as configuration error")
	}
}
