package broadcast

import "errors"

// Errors returned by the broadcast package.
var (
	ErrUnknownType   = errors.New("broadcast: unknown type")
	ErrTooLarge      = errors.New("broadcast: element exceeds payload budget")
	ErrElementSize   = errors.New("broadcast: element has the wrong size")
	ErrCancelled     = errors.New("broadcast: cancelled")
	ErrSuperseded    = errors.New("broadcast: superseded by a newer command")
	ErrNoKey         = errors.New("broadcast: no key for sphere")
	ErrNoAdvertiser  = errors.New("broadcast: advertiser is required")
	ErrNoKeyLookup   = errors.New("broadcast: key lookup is required")
	ErrShortPayload  = errors.New("broadcast: payload too short")
	ErrBadValidation = errors.New("broadcast: validation header mismatch")
)
