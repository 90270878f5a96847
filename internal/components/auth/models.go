package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeInvalidCredentials
	OutcomeUserNotFound
	OutcomeRateLimited
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeUserNotFound:
		return "user_not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

type (
	// Outcome is the result of one authentication attempt.
	// UserID and Role are set only on success, RetryAfter only when rate limited.
	Outcome struct {
		Kind       OutcomeKind
		UserID     uuid.UUID
		Role       credential.Role
		RetryAfter time.Duration
	}

	LoginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
)
