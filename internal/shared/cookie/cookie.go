package cookie

import (
	"errors"
	"net/http"
	"time"
)

const cookieName string = "session"

var ErrInvalidValue = errors.New("invalid cookie value")

// GetCookie returns the session token carried by the request's cookie.
func GetCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", err
	}
	if cookie.Value == "" {
		return "", ErrInvalidValue
	}
	return cookie.Value, nil
}

// SetCookie hands token to the client. The cookie lives no longer than the session's absolute lifetime.
func SetCookie(w http.ResponseWriter, token string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		HttpOnly: true,
		// Send cookie to all routes in the app
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie tells the client to drop its session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
