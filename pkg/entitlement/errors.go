package entitlement

import "errors"

var (
	ErrUnknownSurface = errors.New("unknown content surface")
	ErrUnavailable    = errors.New("entitlement could not be determined")
)
