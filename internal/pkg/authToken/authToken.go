package authToken

import (
	"context"
	"errors"
	"fmt"
	"github.com/golang-jwt/jwt/v5"
	"net/http"
	"os"
	"strings"
)

// DefaultCookieName is the cookie the identity provider's web SDK keeps the session token in.
const DefaultCookieName = "DS"

var ErrNoToken = errors.New("no session token available")

// Provider returns a bearer token for a single call. Tokens expire, so callers ask
// for one every time instead of caching it.
type Provider func(ctx context.Context) (string, error)

func Static(token string) Provider {
	return func(ctx context.Context) (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
}

// Environment reads the variable at call time so a refreshed token is picked up.
func Environment(name string) Provider {
	return func(ctx context.Context) (string, error) {
		token := os.Getenv(name)
		if token == "" {
			return "", fmt.Errorf("environment variable %s is empty: %w", name, ErrNoToken)
		}
		return token, nil
	}
}

// FromRequest returns the bearer token of the Authorization header, falling back to
// the session cookie.
func FromRequest(request *http.Request, cookieName string) string {
	header := request.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return strings.TrimSpace(token)
	}

	cookie, err := request.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

var userIdError = func(err error) error {
	return fmt.Errorf("error reading user id from token: %w", err)
}

// UserId returns the subject claim of a session token. The signature is not checked:
// the orchestrator verifies the token on every call, the id only labels requests.
func UserId(token string) (string, error) {
	if token == "" {
		return "", userIdError(ErrNoToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", userIdError(err)
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return "", userIdError(err)
	}
	if subject == "" {
		return "", userIdError(errors.New("empty subject"))
	}
	return subject, nil
}
