package domain

import "errors"

// Protocol errors. Every failure is synchronous and leaves records untouched.
var (
	ErrAdminMismatch      = errors.New("caller is not the protocol admin")
	ErrAlreadyInitialized = errors.New("protocol already initialized")
	ErrInvalidFee         = errors.New("fee exceeds 10000 bps")
	ErrPaused             = errors.New("protocol is paused")
	ErrAssetNotAllowed    = errors.New("asset is not allowed")
	ErrDuplicateMarket    = errors.New("market already exists")
	ErrInvalidWindow      = errors.New("market end must be after start")
	ErrBettingClosed      = errors.New("betting is closed")
	ErrDuplicateBet       = errors.New("bet already exists")
	ErrInvalidReveal      = errors.New("reveal does not match commitment")
	ErrNotRevealed        = errors.New("bet has not been revealed")
	ErrAlreadyCalculated  = errors.New("bet outcome already calculated")
	ErrNotYetUndelegated  = errors.New("bet is still delegated")
	ErrNotExpired         = errors.New("market has not expired")
	ErrAlreadyResolved    = errors.New("market already resolved")
	ErrAlreadyFinalized   = errors.New("market weights already finalized")
	ErrAlreadyClaimed     = errors.New("reward already claimed")
	ErrNotSettled         = errors.New("bet is not settled")
	ErrAlreadyDelegated   = errors.New("bet is already delegated")
	ErrInsufficientVault  = errors.New("insufficient vault balance")
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotInitialized       = errors.New("protocol not initialized")
	ErrNotDelegated         = errors.New("bet is not delegated")
	ErrNotResolved          = errors.New("market not resolved")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrSlippageExceeded     = errors.New("slippage tolerance exceeded")
	ErrInvalidPolicy        = errors.New("resolution policy not allowed for market mode")
	ErrInvalidMode          = errors.New("operation not valid for market mode")
	ErrInvalidAssetList     = errors.New("allowed asset list contains duplicates")
	ErrInvalidSymbol        = errors.New("asset symbol must not be empty")
	ErrInvalidIdentity      = errors.New("identity must not be the zero address")
	ErrRevealWindowExpired  = errors.New("reveal window expired")
	ErrAlreadyRevealed      = errors.New("bet already revealed")
	ErrConfirmationRequired = errors.New("admin transfer requires a valid confirmation")
	ErrTimelockActive       = errors.New("admin handoff timelock still active")
	ErrUndelegationPending  = errors.New("undelegation pending confirmation")
	ErrInsufficientBalance  = errors.New("insufficient account balance")
	ErrTimeoutNotMet        = errors.New("timeout has not elapsed")
	ErrLockHeld             = errors.New("lock already held")
)
