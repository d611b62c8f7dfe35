package websocketServer

import (
	"context"
	"errors"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/cookies"
	"net/http"
	"sync"
	"time"
)

const subscriberMessageBufferSize = 16
const writeTimeout = 5 * time.Second

type websocketServerImpl struct {
	mutex         sync.Mutex
	subscribers   map[uuid.UUID]map[*serverSubscriber]struct{}
	snapshotFunc  SnapshotFunc
	acceptOptions *websocket.AcceptOptions
}

type Option func(*websocketServerImpl)

func WithSnapshotFunc(snapshotFunc SnapshotFunc) Option {
	return func(server *websocketServerImpl) {
		server.snapshotFunc = snapshotFunc
	}
}

// WithOriginPatterns allows cross origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(server *websocketServerImpl) {
		server.acceptOptions = &websocket.AcceptOptions{OriginPatterns: patterns}
	}
}

func New(options ...Option) WebsocketServer {
	server := &websocketServerImpl{
		subscribers: make(map[uuid.UUID]map[*serverSubscriber]struct{}),
	}
	for _, option := range options {
		option(server)
	}
	return server
}

type serverSubscriber struct {
	messageChannel chan []byte
	closeSlow      func()
}

func (instance *websocketServerImpl) Handler(responseWriter http.ResponseWriter, request *http.Request) {
	id := cookies.GetIdFromCookie(request)
	if id == uuid.Nil {
		http.Error(responseWriter, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := instance.subscribe(responseWriter, request, id)
	if errors.Is(err, context.Canceled) {
		return
	}

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return
	}

	if err != nil {
		log.Error().Err(err).Msg("subscribe() failed")
		return
	}
}

func (instance *websocketServerImpl) subscribe(responseWriter http.ResponseWriter, request *http.Request, id uuid.UUID) error {
	websocketConnection, err := websocket.Accept(responseWriter, request, instance.acceptOptions)
	if err != nil {
		// Accept will write a response to responseWriter on all errors
		log.Error().Err(err).Msg("websocket.Accept() failed")
		return err
	}

	defer func() {
		err := websocketConnection.CloseNow()
		if err != nil {
			log.Debug().Err(err).Msg("websocket.Conn.CloseNow() failed")
		}
	}()

	subscriber := &serverSubscriber{
		messageChannel: make(chan []byte, subscriberMessageBufferSize),
		closeSlow: func() {
			err := websocketConnection.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
			if err != nil {
				log.Error().Err(err).Msg("websocket.Conn.Close() failed")
			}
		},
	}

	instance.addSubscriber(id, subscriber)
	defer instance.deleteSubscriber(id, subscriber)

	ctx := websocketConnection.CloseRead(context.Background())

	if instance.snapshotFunc != nil {
		if snapshot := instance.snapshotFunc(id); len(snapshot) > 0 {
			if err := write(ctx, websocketConnection, snapshot); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case message := <-subscriber.messageChannel:
			if err := write(ctx, websocketConnection, message); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (instance *websocketServerImpl) Publish(id uuid.UUID, message []byte) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	for subscriber := range instance.subscribers[id] {
		select {
		case subscriber.messageChannel <- message:
		default:
			go subscriber.closeSlow()
		}
	}
}

func (instance *websocketServerImpl) Subscribers(id uuid.UUID) int {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return len(instance.subscribers[id])
}

func (instance *websocketServerImpl) addSubscriber(id uuid.UUID, subscriber *serverSubscriber) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	if instance.subscribers[id] == nil {
		instance.subscribers[id] = make(map[*serverSubscriber]struct{})
	}
	instance.subscribers[id][subscriber] = struct{}{}
}

func (instance *websocketServerImpl) deleteSubscriber(id uuid.UUID, subscriber *serverSubscriber) {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()

	delete(instance.subscribers[id], subscriber)
	if len(instance.subscribers[id]) == 0 {
		delete(instance.subscribers, id)
	}
}

func write(ctx context.Context, websocketConnection *websocket.Conn, message []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := websocketConnection.Write(writeCtx, websocket.MessageText, message)
	if err != nil {
		log.Error().Err(err).Msg("websocket.Conn.Write() failed")
		return err
	}

	return nil
}
