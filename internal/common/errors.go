package common

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by every mutating operation. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrMarketHalted          = errors.New("market halted")
	ErrInvalidState          = errors.New("invalid state")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrEmptyPool             = errors.New("empty pool")
	ErrStopped               = errors.New("exchange stopped")

	ErrOrderNotFound = fmt.Errorf("%w: order not found", ErrInvalidArgument)
	ErrOverflow      = fmt.Errorf("%w: arithmetic overflow", ErrInvalidArgument)
)
