package credential

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type (
	// UserRecord is the stored identity of a user. It never leaves the service.
	UserRecord struct {
		ID           uuid.UUID
		Username     string
		UsernameKey  string
		PasswordHash []byte `json:"-"`
		Salt         []byte `json:"-"`
		AlgorithmTag string
		Role         Role
		CreatedAt    time.Time
	}
)

// NormalizeUsername returns the lookup key for username: trimmed and Unicode case-folded,
// so "Alice" and "alice" resolve to the same record.
func NormalizeUsername(username string) string {
	return cases.Fold().String(strings.TrimSpace(username))
}

func (u UserRecord) clone() UserRecord {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	u.Salt = append([]byte(nil), u.Salt...)
	return u
}
