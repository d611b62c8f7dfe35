package websocketServer

import (
	"github.com/google/uuid"
	"net/http"
)

// SnapshotFunc renders the current state of a browser session. It is sent to every
// newly subscribed connection, so a tab that reconnects after being in the background
// catches up without waiting for the next change.
type SnapshotFunc func(id uuid.UUID) []byte

type WebsocketServer interface {
	Handler(responseWriter http.ResponseWriter, request *http.Request)
	Publish(id uuid.UUID, message []byte)
	Subscribers(id uuid.UUID) int
}
