package toolgate

import (
	"errors"
)

var (
	// Issuance errors.
	ErrInvalidToolID        = errors.New("invalid tool id")
	ErrNotFound             = errors.New("tool not found")
	ErrForbidden            = errors.New("access to tool denied")
	ErrInvalidConfiguration = errors.New("tool login url not configured")

	// Redemption errors. These are only ever surfaced as the generic error page.
	ErrInvalidToken = errors.New("invalid access token")
	ErrExpired      = errors.New("access token expired")
	ErrAlreadyUsed  = errors.New("access token already used")

	// Store errors.
	ErrGrantExists = errors.New("grant fingerprint already exists")
	ErrStoreClosed = errors.New("grant store is closed")
)

// IsRedemptionError reports whether err is one of the errors a redemption
// can legitimately produce for a bad token.
func IsRedemptionError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyUsed)
}
