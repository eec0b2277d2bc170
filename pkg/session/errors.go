package session

import "errors"

// Session package errors.
var (
	// ErrInvalidKey is returned when key material is not 16 bytes.
	ErrInvalidKey = errors.New("session: invalid key length")

	// ErrDialectAlreadySet is returned when the dialect is negotiated twice.
	ErrDialectAlreadySet = errors.New("session: dialect already set")

	// ErrModeAlreadySet is returned when the operation mode is resolved twice.
	ErrModeAlreadySet = errors.New("session: operation mode already set")

	// ErrNoAccess is returned when no key is usable for the connection.
	ErrNoAccess = errors.New("session: no usable key for connection")

	// ErrInvalidPhase is returned for a phase change that skips backwards.
	ErrInvalidPhase = errors.New("session: invalid phase transition")

	// ErrNotFound is returned when no state exists for a peer.
	ErrNotFound = errors.New("session: connection not found")
)
