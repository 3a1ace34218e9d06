package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a broken counter, template store or cabin directory.
	// Operators must repair it; nothing resets it automatically.
	ErrConfiguration = errors.New("cabin configuration error")
	// ErrDuplicateInstance is returned when an instance file already exists for a
	// freshly allocated serial.
	ErrDuplicateInstance = errors.New("cabin instance already exists")
	// ErrUnresolvable means neither the live handle nor the backup yields a position.
	ErrUnresolvable = errors.New("vessel position unresolvable")
	// ErrMapUnavailable means the host could not ready a map.
	ErrMapUnavailable = errors.New("map unavailable")
	// ErrAlreadyLinked is returned when linking a door that already carries a serial.
	ErrAlreadyLinked = errors.New("door already linked to a cabin")
)

// ConfigError describes a configuration failure on a specific path.
type ConfigError struct {
	What string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	msg := e.What
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// DuplicateError names the instance file that unexpectedly exists.
type DuplicateError struct {
	Serial uint64
	Path   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("cabin instance %d already exists at %s", e.Serial, e.Path)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateInstance }
