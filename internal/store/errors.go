package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSecret is returned when inserting a token whose hashed
	// secret already exists. Hash uniqueness is the creation-time collision
	// guard for the whole subsystem.
	ErrDuplicateSecret = errors.New("duplicate hashed secret")
)
