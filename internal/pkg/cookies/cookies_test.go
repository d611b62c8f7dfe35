package cookies

import (
	"encoding/base64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("cookie-test-secret")

func TestSignKeyValuePositive(t *testing.T) {
	signed, err := SignKeyValue(DeviceCookieName, "device_1760000000000_abcdefghi", testSecret)
	require.NoError(t, err)

	value, err := VerifySignedKeyValue(DeviceCookieName, signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "device_1760000000000_abcdefghi", value)
}

func TestSignKeyValueNegativeEmptyInput(t *testing.T) {
	signed, err := SignKeyValue("", "value", testSecret)
	assert.Empty(t, signed)
	assert.EqualError(t, err, "error signing key value: empty key")

	signed, err = SignKeyValue(SessionCookieName, "", testSecret)
	assert.Empty(t, signed)
	assert.EqualError(t, err, "error signing key value: empty value")
}

func TestVerifySignedKeyValueNegativeOtherSecret(t *testing.T) {
	signed, err := SignKeyValue(SessionCookieName, uuid.NewString(), testSecret)
	require.NoError(t, err)

	value, err := VerifySignedKeyValue(SessionCookieName, signed, []byte("rotated-secret"))
	assert.Empty(t, value)
	assert.EqualError(t, err, "error verifying signed key value: invalid signature")
}

func TestVerifySignedKeyValueNegative(t *testing.T) {
	cases := []struct {
		name        string
		key         string
		signedValue string
		expected    string
	}{
		{"empty key", "", "value", "empty key"},
		{"empty value", SessionCookieName, "", "empty signedValue"},
		{"not base64", SessionCookieName, "session id?", "illegal base64 data at input byte 7"},
		{"too short", SessionCookieName, base64.RawURLEncoding.EncodeToString([]byte("short")), "signed value is too short"},
		{"forged", SessionCookieName, base64.RawURLEncoding.EncodeToString(make([]byte, 48)), "invalid signature"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			value, err := VerifySignedKeyValue(testCase.key, testCase.signedValue, testSecret)
			assert.Empty(t, value)
			assert.EqualError(t, err, "error verifying signed key value: "+testCase.expected)
		})
	}
}

func TestSessionCookiePositive(t *testing.T) {
	id := uuid.New()
	cookie := SetIdToCookie(id)
	require.NotNil(t, cookie)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)

	request := httptest.NewRequest(http.MethodGet, "/chat", nil)
	request.AddCookie(cookie)
	assert.Equal(t, id, GetIdFromCookie(request))
}

func TestSessionCookieNegativeMissing(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/chat", nil)
	assert.Equal(t, uuid.Nil, GetIdFromCookie(request))
}

func TestSessionCookieNegativeTampered(t *testing.T) {
	cookie := SetIdToCookie(uuid.New())
	require.NotNil(t, cookie)
	replacement := "A"
	if cookie.Value[0] == 'A' {
		replacement = "B"
	}
	cookie.Value = replacement + cookie.Value[1:]

	request := httptest.NewRequest(http.MethodGet, "/chat", nil)
	request.AddCookie(cookie)
	assert.Equal(t, uuid.Nil, GetIdFromCookie(request))
}

func TestDeviceCookiePositive(t *testing.T) {
	cookie := SetDeviceIdToCookie("device_1760000000000_abcdefghi")
	require.NotNil(t, cookie)
	assert.Equal(t, 365*24*3600, cookie.MaxAge)

	request := httptest.NewRequest(http.MethodGet, "/chat", nil)
	request.AddCookie(cookie)
	assert.Equal(t, "device_1760000000000_abcdefghi", GetDeviceIdFromCookie(request))
}

func TestDeviceCookieNegativeSignedForOtherName(t *testing.T) {
	// A session cookie value replayed under the device cookie name fails verification.
	sessionCookie := SetValueToCookie(SessionCookieName, "device-1", time.Hour)
	require.NotNil(t, sessionCookie)

	request := httptest.NewRequest(http.MethodGet, "/chat", nil)
	request.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: sessionCookie.Value})
	assert.Equal(t, "", GetDeviceIdFromCookie(request))
}
