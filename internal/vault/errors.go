package vault

import "errors"

// Error kinds. Every rejection wraps exactly one of these sentinels; callers
// match with errors.Is to decide between retrying with different parameters
// and abandoning. There is no retry inside the core.
var (
	// ErrInvalidInput covers zero amounts where a positive one is required,
	// nil accounts, and malformed rates.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized covers callers that are not the position owner, lack a
	// required role, or are not the recorded liquidator.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState covers actions against a position in the wrong
	// lifecycle state: already liquidated, not liquidated, insurance window
	// expired or still open, wrong insurance mode.
	ErrInvalidState = errors.New("invalid state")

	// ErrLimitExceeded covers debt that would exceed the position's credit
	// limit or the vault's global borrow cap.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrOracleFailure covers zero or stale value-provider readings.
	ErrOracleFailure = errors.New("oracle failure")

	// ErrInsufficientFunds covers stablecoin burns or collateral transfers
	// that could not be satisfied. Fatal and non-retriable for the enclosing
	// action.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidRate is the InvalidInput kind raised by settings validation.
	ErrInvalidRate = errors.New("invalid rate")
)
