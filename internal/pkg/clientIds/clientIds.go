package clientIds

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	devicePrefix = "device"
	chatPrefix   = "chat"
	suffixLength = 9
	alphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var alphabetSize = big.NewInt(int64(len(alphabet)))

// NewDeviceId returns an id of the form device_<unixMillis>_<9 base36 chars>.
func NewDeviceId() string {
	return newId(devicePrefix, time.Now())
}

// NewChatId returns an id of the form chat_<unixMillis>_<9 base36 chars>.
func NewChatId() string {
	return newId(chatPrefix, time.Now())
}

func newId(prefix string, now time.Time) string {
	var builder strings.Builder
	builder.WriteString(prefix)
	builder.WriteByte('_')
	builder.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	builder.WriteByte('_')
	for i := 0; i < suffixLength; i++ {
		index, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			panic(err)
		}
		builder.WriteByte(alphabet[index.Int64()])
	}
	return builder.String()
}
