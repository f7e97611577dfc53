package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDisabled      = errors.New("backend not configured")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	// Configuration errors: nothing resolvable for the active network.
	ErrUnsupportedNetwork = errors.New("Please connect to a supported network")
	ErrUnknownOracle      = errors.New("Price feed not available for this network")
	ErrUnknownToken       = errors.New("Token not available for this network")

	// Validation errors: rejected before any network call.
	ErrNotConnected    = errors.New("wallet not connected")
	ErrReadOnly        = errors.New("session account is not the signing wallet")
	ErrInvalidInput    = errors.New("invalid input")
	ErrBelowMinimum    = errors.New("amount below minimum")
	ErrMarketClosed    = errors.New("market closed for betting")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrNotExpired      = errors.New("market deadline not reached")
	ErrNotClaimable    = errors.New("nothing to claim")
	ErrActionBusy      = errors.New("action already in progress")

	// Transaction errors.
	ErrTxReverted = errors.New("transaction reverted")
	ErrTxTimeout  = errors.New("transaction not mined before timeout")
)

// IsConfigError reports whether err stems from an unresolvable network entry.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnsupportedNetwork) ||
		errors.Is(err, ErrUnknownOracle) ||
		errors.Is(err, ErrUnknownToken)
}

// IsValidationError reports whether err was raised before touching the chain.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrNotConnected, ErrReadOnly, ErrInvalidInput, ErrBelowMinimum,
		ErrMarketClosed, ErrAlreadyResolved, ErrNotExpired, ErrNotClaimable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
