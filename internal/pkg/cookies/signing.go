package cookies

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var signKeyValueError = func(err error) error {
	return fmt.Errorf("error signing key value: %w", err)
}

// SignKeyValue returns base64url(hmac(key, value) || value). The key is bound into the
// signature, so a value signed for one cookie is rejected under another name.
func SignKeyValue(key string, value string, secretKey []byte) (string, error) {
	if key == "" {
		return "", signKeyValueError(errors.New("empty key"))
	}

	if value == "" {
		return "", signKeyValueError(errors.New("empty value"))
	}

	signature := sign(key, []byte(value), secretKey)
	signed := make([]byte, 0, len(signature)+len(value))
	signed = append(signed, signature...)
	signed = append(signed, value...)

	return base64.RawURLEncoding.EncodeToString(signed), nil
}

var verifySignedKeyValueError = func(err error) error {
	return fmt.Errorf("error verifying signed key value: %w", err)
}

func VerifySignedKeyValue(key string, signedValue string, secretKey []byte) (string, error) {
	if key == "" {
		return "", verifySignedKeyValueError(errors.New("empty key"))
	}

	if signedValue == "" {
		return "", verifySignedKeyValueError(errors.New("empty signedValue"))
	}

	signedValueBytes, err := base64.RawURLEncoding.DecodeString(signedValue)
	if err != nil {
		return "", verifySignedKeyValueError(err)
	}

	if len(signedValueBytes) < sha256.Size {
		return "", verifySignedKeyValueError(errors.New("signed value is too short"))
	}

	signature := signedValueBytes[:sha256.Size]
	value := signedValueBytes[sha256.Size:]

	if !hmac.Equal(signature, sign(key, value, secretKey)) {
		return "", verifySignedKeyValueError(errors.New("invalid signature"))
	}

	return string(value), nil
}

func sign(key string, value []byte, secretKey []byte) []byte {
	var keyLength [4]byte
	binary.BigEndian.PutUint32(keyLength[:], uint32(len(key)))

	mac := hmac.New(sha256.New, secretKey)
	mac.Write(keyLength[:])
	mac.Write([]byte(key))
	mac.Write(value)
	return mac.Sum(nil)
}
