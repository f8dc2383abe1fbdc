package claims

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDuplicateClaim      = errors.New("duplicate claim")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNotFound            = errors.New("not found")
	ErrNotVerified         = errors.New("claim not verified")
	ErrAlreadyPaid         = errors.New("claim already paid")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrReentrancy          = errors.New("reentrant call")
	ErrPaused              = errors.New("system paused")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrNotInitialized      = errors.New("engine not initialized")
	ErrChainBroken         = errors.New("audit chain broken")
)
