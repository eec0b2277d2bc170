package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	ErrClosed          = errors.New("discovery: closed")
	ErrAlreadyStarted  = errors.New("discovery: already started")
	ErrServiceNotFound = errors.New("discovery: service not found")
	ErrTimeout         = errors.New("discovery: operation timed out")
	ErrInvalidPort     = errors.New("discovery: invalid port (must be 1-65535)")
	ErrInvalidTXT      = errors.New("discovery: invalid TXT record")
	ErrNoAddresses     = errors.New("discovery: bridge has no addresses")
)
