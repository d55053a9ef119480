package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidKey    = errors.New("invalid private key")
	ErrCallFailed    = errors.New("contract call failed")
	ErrCallReverted  = errors.New("contract call reverted")
	ErrSubscription  = errors.New("subscription closed")
	ErrLockHeld      = errors.New("lock held by another instance")
)
