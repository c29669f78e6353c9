package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrNotMonitored         = errors.New("symbol not monitored")
	ErrNoSymbols            = errors.New("no symbols to subscribe")
	ErrMalformedMessage     = errors.New("malformed stream message")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrRetryBudgetExhausted = errors.New("stream retry budget exhausted")
	ErrAlreadyRunning       = errors.New("already running")
	ErrNotRunning           = errors.New("not running")
	ErrLockHeld             = errors.New("lock already held")
)
