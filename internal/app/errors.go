package app

import "errors"

// ErrInvalidConfig and related errors describe validation and runtime failures.
var (
	ErrInvalidConfig = errors.New("invalid tracker config")
	ErrUnknownGroup  = errors.New("unknown group")
	ErrStateMissing  = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state corrupt")
	ErrLedgerMissing = errors.New("ledger not found")
	ErrInvalidPeriod = errors.New("invalid period")
)
