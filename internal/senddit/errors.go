package senddit

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDuplicateLink      = errors.New("link already submitted")
	ErrOverflow           = errors.New("counter overflow")
	ErrAlreadyVoted       = errors.New("already voted")
)
