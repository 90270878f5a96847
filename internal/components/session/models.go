package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
)

type (
	// Session is the server-side state behind a token.
	Session struct {
		UserID       uuid.UUID
		Role         credential.Role
		IssuedAt     time.Time
		ExpiresAt    time.Time // idle expiry, slides on use
		MaxExpiresAt time.Time // absolute cap
	}

	// Token is a freshly issued session. ID is the only copy of the bearer secret.
	Token struct {
		ID string
		Session
	}
)

// expiredAt reports whether s is no longer usable at now.
func (s Session) expiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt) || !now.Before(s.MaxExpiresAt)
}
