package admin

import "time"

// UserSummary is the only view of a user the gateway hands out.
type UserSummary struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
