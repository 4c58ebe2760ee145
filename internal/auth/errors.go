package auth

import "errors"

var (
	ErrUnknownCapability = errors.New("auth: unknown capability")
	ErrInvalidSnapshot   = errors.New("auth: invalid permission snapshot")
)
