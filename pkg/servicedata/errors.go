package servicedata

import "errors"

// Errors returned by the servicedata package.
var (
	ErrInvalid         = errors.New("servicedata: invalid service data")
	ErrNotEncrypted    = errors.New("servicedata: layout is not encrypted")
	ErrUnknownOpcode   = errors.New("servicedata: unknown opcode")
	ErrUnknownDataType = errors.New("servicedata: unknown data type")
)
