package services

import "github.com/driftbox/backend/internal/models"

// VerifySession checks a presented token against the current account
// state. The token carries the version it was minted with; a mismatch
// means the user has revoked their sessions since, so the token is
// dead even though its signature still validates.
func VerifySession(user *models.User, tokenVersion int) error {
	if user == nil {
		return ErrUnauthenticated
	}
	if tokenVersion != user.TokenVersion {
		return ErrTokenRevoked
	}
	if !user.Active() {
		return ErrAccountDisabled
	}
	return nil
}
