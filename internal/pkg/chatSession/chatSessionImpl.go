package chatSession

import (
	"context"
	"errors"
	"github.com/rs/zerolog/log"
	"mcp-chat/internal/pkg/eventStream"
	"mcp-chat/internal/pkg/orchestrator"
	"strings"
	"sync"
)

var ErrSessionClosed = errors.New("chat session is shut down")

type chatSessionImpl struct {
	streamer     Streamer
	responseFunc ResponseFunc

	mutex        sync.Mutex
	state        State
	generation   uint64
	cancelStream context.CancelFunc
	closed       bool
	streams      sync.WaitGroup
	sequence     uint64

	// Snapshots reach responseFunc one at a time, newest last. A snapshot older than
	// one already queued or delivered is dropped.
	deliveryMutex  sync.Mutex
	delivering     bool
	queued         *Snapshot
	queuedSequence uint64
}

func New(streamer Streamer, responseFunc ResponseFunc) ChatSession {
	if responseFunc == nil {
		responseFunc = func(Snapshot) {}
	}
	return &chatSessionImpl{
		streamer:     streamer,
		responseFunc: responseFunc,
	}
}

func (instance *chatSessionImpl) SendMessage(request SendRequest) error {
	text := strings.TrimSpace(request.Text)
	if text == "" {
		return nil
	}
	if request.Tokens == nil {
		return errors.New("token provider is required")
	}

	instance.mutex.Lock()
	if instance.closed {
		instance.mutex.Unlock()
		return ErrSessionClosed
	}

	// The previous stream is aborted before the new request exists; its late events
	// carry a stale generation and are dropped.
	instance.abortLocked()
	generation := instance.generation

	instance.state.Messages = appended(instance.state.Messages, UserMessage{Content: text})
	instance.state.AssistantText = ""
	instance.state.Loading = true
	instance.state.Processing = false
	instance.state.Finished = false
	instance.state.Err = nil

	ctx, cancel := context.WithCancel(context.Background())
	instance.cancelStream = cancel
	instance.streams.Add(1)
	sequence, snapshot := instance.publishableLocked()
	instance.mutex.Unlock()

	instance.deliver(sequence, snapshot)

	go instance.stream(ctx, cancel, generation, text, request)
	return nil
}

// stream runs detached from the HTTP request that started it, so a browser tab going
// to the background or a dropped websocket does not end it.
func (instance *chatSessionImpl) stream(ctx context.Context, cancel context.CancelFunc, generation uint64, text string, request SendRequest) {
	defer instance.streams.Done()
	defer cancel()

	token, err := request.Tokens(ctx)
	if err != nil {
		log.Error().Err(err).Str("chat_id", request.ChatId).Msg("token provider failed")
		instance.finish(generation, err)
		return
	}

	streamRequest := orchestrator.StreamChatRequest{
		Message:  text,
		UserId:   request.UserId,
		DeviceId: request.DeviceId,
	}
	err = instance.streamer.StreamChat(ctx, token, request.ChatId, streamRequest, func(event eventStream.Event) error {
		streamEvent, err := DecodeEvent(event.Data)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", request.ChatId).Msg("malformed stream event skipped")
			return nil
		}
		if !instance.apply(generation, streamEvent) {
			return eventStream.ErrStop
		}
		return nil
	})

	if ctx.Err() != nil && !instance.isCurrent(generation) {
		// Aborted by SendMessage, ResetChat, LoadHistory or Shutdown.
		return
	}
	if err != nil {
		log.Error().Err(err).Str("chat_id", request.ChatId).Msg("orchestrator.StreamChat() failed")
	}
	instance.finish(generation, err)
}

// apply reduces one event into the state and reports whether the stream should go on.
func (instance *chatSessionImpl) apply(generation uint64, event StreamEvent) bool {
	instance.mutex.Lock()
	if generation != instance.generation {
		instance.mutex.Unlock()
		return false
	}

	instance.state = Reduce(instance.state, event)
	finished := instance.state.Finished
	if finished {
		instance.cancelStream = nil
	}
	sequence, snapshot := instance.publishableLocked()
	instance.mutex.Unlock()

	if event.Error != "" {
		log.Error().Str("error", event.Error).Msg("stream reported an error")
	}
	instance.deliver(sequence, snapshot)
	return !finished
}

// finish releases the stream handle after the stream returned. A stream that ends
// without a terminal event, or fails, is reported as a lost connection.
func (instance *chatSessionImpl) finish(generation uint64, err error) {
	instance.mutex.Lock()
	if generation != instance.generation {
		instance.mutex.Unlock()
		return
	}
	instance.cancelStream = nil
	if instance.state.Finished {
		instance.mutex.Unlock()
		return
	}

	if err == nil {
		log.Warn().Msg("stream ended without a done event")
	}
	instance.state.Err = &SessionError{Kind: ErrorKindConnectionLost, Message: connectionLostMessage}
	instance.state.Loading = false
	instance.state.Processing = false
	instance.state.Finished = true
	sequence, snapshot := instance.publishableLocked()
	instance.mutex.Unlock()

	instance.deliver(sequence, snapshot)
}

func (instance *chatSessionImpl) isCurrent(generation uint64) bool {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return generation == instance.generation
}

// abortLocked cancels the stream in flight, if any. Calling it twice is harmless.
func (instance *chatSessionImpl) abortLocked() {
	if instance.cancelStream != nil {
		instance.cancelStream()
		instance.cancelStream = nil
	}
	instance.generation++
}

func (instance *chatSessionImpl) ResetChat() {
	instance.mutex.Lock()
	instance.abortLocked()
	instance.state = State{}
	sequence, snapshot := instance.publishableLocked()
	instance.mutex.Unlock()

	instance.deliver(sequence, snapshot)
}

func (instance *chatSessionImpl) LoadHistory(messages []ChatMessage) {
	instance.mutex.Lock()
	instance.abortLocked()
	instance.state = State{Messages: append([]ChatMessage(nil), messages...)}
	sequence, snapshot := instance.publishableLocked()
	instance.mutex.Unlock()

	instance.deliver(sequence, snapshot)
}

func (instance *chatSessionImpl) ClearError() {
	instance.mutex.Lock()
	instance.state.Err = nil
	sequence, snapshot := instance.publishableLocked()
	instance.mutex.Unlock()

	instance.deliver(sequence, snapshot)
}

func (instance *chatSessionImpl) Snapshot() Snapshot {
	instance.mutex.Lock()
	defer instance.mutex.Unlock()
	return instance.snapshotLocked()
}

// publishableLocked numbers the snapshot in the order the state changed.
func (instance *chatSessionImpl) publishableLocked() (uint64, Snapshot) {
	instance.sequence++
	return instance.sequence, instance.snapshotLocked()
}

// deliver hands the snapshot to responseFunc. When another goroutine is delivering,
// the snapshot is queued for it and deliver returns at once; that goroutine delivers
// the newest queued snapshot after its current callback returns.
func (instance *chatSessionImpl) deliver(sequence uint64, snapshot Snapshot) {
	instance.deliveryMutex.Lock()
	if sequence <= instance.queuedSequence {
		instance.deliveryMutex.Unlock()
		return
	}
	instance.queued = &snapshot
	instance.queuedSequence = sequence
	if instance.delivering {
		instance.deliveryMutex.Unlock()
		return
	}

	instance.delivering = true
	for instance.queued != nil {
		next := *instance.queued
		instance.queued = nil
		instance.deliveryMutex.Unlock()
		instance.responseFunc(next)
		instance.deliveryMutex.Lock()
	}
	instance.delivering = false
	instance.deliveryMutex.Unlock()
}

func (instance *chatSessionImpl) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Messages:   append([]ChatMessage(nil), instance.state.Messages...),
		Loading:    instance.state.Loading,
		Processing: instance.state.Processing,
		Streaming:  instance.cancelStream != nil,
	}
	if instance.state.Err != nil {
		sessionError := *instance.state.Err
		snapshot.Err = &sessionError
	}
	return snapshot
}

// Shutdown aborts the stream in flight and waits for its goroutine to return.
func (instance *chatSessionImpl) Shutdown() {
	instance.mutex.Lock()
	if instance.closed {
		instance.mutex.Unlock()
		log.Info().Msg("chatSession shutdown requested again")
		return
	}
	instance.closed = true
	instance.abortLocked()
	instance.mutex.Unlock()

	instance.streams.Wait()
	log.Info().Msg("chatSession shutdown completed")
}
