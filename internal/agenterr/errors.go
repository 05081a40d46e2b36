package agenterr

import "errors"

var (
	ErrUnknownFunction  = errors.New("unknown function")
	ErrInvalidArguments = errors.New("invalid function arguments")
	ErrIterationLimit   = errors.New("function call iteration limit reached")
	ErrProviderTimeout  = errors.New("ai provider timeout")
	ErrProvider         = errors.New("ai provider failure")
	ErrNotAdmin         = errors.New("admin allow-list required")
)
