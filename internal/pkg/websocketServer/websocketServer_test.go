package websocketServer

import (
	"context"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcp-chat/internal/pkg/cookies"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func dial(t *testing.T, serverUrl string, id uuid.UUID) *websocket.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cookie := cookies.SetIdToCookie(id)
	require.NotNil(t, cookie)

	connection, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(serverUrl, "http"), &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{cookie.Name + "=" + cookie.Value}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = connection.CloseNow() })
	return connection
}

func read(t *testing.T, connection *websocket.Conn) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, message, err := connection.Read(ctx)
	require.NoError(t, err)
	return string(message)
}

func TestHandlerPositiveSnapshotThenPublish(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	server := New(WithSnapshotFunc(func(subscriberId uuid.UUID) []byte {
		return []byte("snapshot " + subscriberId.String())
	}))
	httpServer := httptest.NewServer(http.HandlerFunc(server.Handler))
	defer httpServer.Close()

	connection := dial(t, httpServer.URL, id)
	assert.Equal(t, "snapshot "+id.String(), read(t, connection))
	assert.Equal(t, 1, server.Subscribers(id))

	server.Publish(other, []byte("not for you"))
	server.Publish(id, []byte("update"))
	assert.Equal(t, "update", read(t, connection))
}

func TestHandlerPositiveUnsubscribeOnClose(t *testing.T) {
	id := uuid.New()
	server := New(WithSnapshotFunc(func(uuid.UUID) []byte { return []byte("snapshot") }))
	httpServer := httptest.NewServer(http.HandlerFunc(server.Handler))
	defer httpServer.Close()

	connection := dial(t, httpServer.URL, id)
	read(t, connection)
	require.NoError(t, connection.Close(websocket.StatusNormalClosure, ""))

	assert.Eventually(t, func() bool { return server.Subscribers(id) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerNegativeNoSessionCookie(t *testing.T) {
	server := New()
	recorder := httptest.NewRecorder()
	server.Handler(recorder, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPublishPositiveNoSubscribers(t *testing.T) {
	server := New()
	assert.NotPanics(t, func() { server.Publish(uuid.New(), []byte("nobody listens")) })
}
