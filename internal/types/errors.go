package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Risk Engine errors
	ErrRiskRejected         = errors.New("risk rejected")
	ErrNotionalExceeded     = errors.New("order notional exceeds max position value")
	ErrInsufficientPosition = errors.New("insufficient position to close")
	ErrUnpricedSignal       = errors.New("no price available for signal")

	// Brokerage errors
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrOrderRejected      = errors.New("order rejected by broker")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidExpiry      = errors.New("invalid option expiry")

	// Connection errors
	ErrConnectionLost = errors.New("connection lost")

	// State errors
	ErrStateNotFound = errors.New("state not found")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
