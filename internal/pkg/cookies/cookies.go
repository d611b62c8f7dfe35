package cookies

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"net/http"
	"time"
)

const (
	SessionCookieName = "chat-session-id"
	DeviceCookieName  = "chat-device-id"

	sessionMaxAge = 12 * time.Hour
	deviceMaxAge  = 365 * 24 * time.Hour
)

var SecretKey = []byte(`2pC5z.3;Kk3wsr20,Ool{h;C%:Gq4eN=q\6F"Dfa£GMB[.j0`)

// GetValueFromCookie returns the verified value of a signed cookie, or "" when the
// cookie is missing or was tampered with.
func GetValueFromCookie(request *http.Request, name string) string {
	cookie, err := request.Cookie(name)
	if err != nil {
		log.Debug().Err(err).Str("cookie", name).Msg("cookie can't be retrieved")
		return ""
	}

	value, err := VerifySignedKeyValue(cookie.Name, cookie.Value, SecretKey)
	if err != nil {
		log.Error().Err(err).Str("cookie", name).Msg("cookie value can't be verified")
		return ""
	}
	return value
}

func SetValueToCookie(name string, value string, maxAge time.Duration) *http.Cookie {
	signedValue, err := SignKeyValue(name, value, SecretKey)
	if err != nil {
		log.Error().Err(err).Msg("cookies.SignKeyValue() failed")
		return nil
	}

	return &http.Cookie{
		Name:     name,
		Value:    signedValue,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func GetIdFromCookie(request *http.Request) uuid.UUID {
	sessionId := GetValueFromCookie(request, SessionCookieName)
	if sessionId == "" {
		return uuid.Nil
	}

	id, err := uuid.Parse(sessionId)
	if err != nil {
		log.Error().Err(err).Msg("session id cookie contains invalid id")
		return uuid.Nil
	}
	return id
}

func SetIdToCookie(id uuid.UUID) *http.Cookie {
	return SetValueToCookie(SessionCookieName, id.String(), sessionMaxAge)
}

func GetDeviceIdFromCookie(request *http.Request) string {
	return GetValueFromCookie(request, DeviceCookieName)
}

func SetDeviceIdToCookie(deviceId string) *http.Cookie {
	return SetValueToCookie(DeviceCookieName, deviceId, deviceMaxAge)
}
