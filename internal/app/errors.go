package app

import "errors"

var ErrInvalidConfig = errors.New("invalid configuration")
