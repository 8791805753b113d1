package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrStoreUnavailable   = errors.New("object store unavailable")
)

type DenyReason string

const (
	DenyUnauthenticated        DenyReason = "unauthenticated"
	DenyAccountDisabled        DenyReason = "account_disabled"
	DenyNotOwner               DenyReason = "not_owner"
	DenyNoShare                DenyReason = "no_share"
	DenyShareExpired           DenyReason = "share_expired"
	DenyInsufficientShareLevel DenyReason = "insufficient_share_level"
)

// Decision is the typed allow/deny result of an authorization check.
// A denied decision always carries a reason; it is never surfaced as
// an unhandled fault.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// ForbiddenError names the specific item that failed authorization so
// bulk operations can report it without committing partial state.
type ForbiddenError struct {
	Reason DenyReason
	Item   string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden (%s): %s", e.Reason, e.Item)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}
