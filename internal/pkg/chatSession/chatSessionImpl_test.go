package chatSession

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mcp-chat/internal/pkg/authToken"
	"mcp-chat/internal/pkg/eventStream"
	"mcp-chat/internal/pkg/orchestrator"
	"sync"
	"testing"
	"time"
)

type streamCall struct {
	ctx     context.Context
	token   string
	chatId  string
	request orchestrator.StreamChatRequest
	handler eventStream.HandlerFunc
	done    chan struct{}
}

// fakeStreamer hands each call to the test through calls; the call blocks until the
// test closes its done channel or the context is cancelled.
type fakeStreamer struct {
	calls chan *streamCall
	err   error
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{calls: make(chan *streamCall, 8)}
}

func (instance *fakeStreamer) StreamChat(ctx context.Context, token string, chatId string, request orchestrator.StreamChatRequest, handler eventStream.HandlerFunc) error {
	call := &streamCall{ctx: ctx, token: token, chatId: chatId, request: request, handler: handler, done: make(chan struct{})}
	instance.calls <- call
	select {
	case <-call.done:
		return instance.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (instance *fakeStreamer) next(t *testing.T) *streamCall {
	select {
	case call := <-instance.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not opened")
		return nil
	}
}

func (call *streamCall) send(t *testing.T, payloads ...string) []error {
	var results []error
	for _, payload := range payloads {
		results = append(results, call.handler(eventStream.Event{Data: []byte(payload)}))
	}
	return results
}

func sendRequest(text string) SendRequest {
	return SendRequest{
		Text:     text,
		ChatId:   "chat-1",
		DeviceId: "device-1",
		UserId:   "user-1",
		Tokens:   authToken.Static("token-1"),
	}
}

func TestSendMessagePositiveStream(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("  hello  ")))

	snapshot := session.Snapshot()
	assert.Equal(t, []ChatMessage{UserMessage{Content: "hello"}}, snapshot.Messages)
	assert.True(t, snapshot.Loading)

	call := streamer.next(t)
	assert.Equal(t, "token-1", call.token)
	assert.Equal(t, "chat-1", call.chatId)
	assert.Equal(t, orchestrator.StreamChatRequest{Message: "hello", UserId: "user-1", DeviceId: "device-1"}, call.request)

	results := call.send(t, `{"type":"content","content":"Hel"}`, `{"type":"content","content":"lo"}`, `{"done":true}`)
	assert.Equal(t, []error{nil, nil, eventStream.ErrStop}, results)
	close(call.done)

	assert.Eventually(t, func() bool { return !session.Snapshot().Streaming }, time.Second, 5*time.Millisecond)
	snapshot = session.Snapshot()
	assert.Equal(t, []ChatMessage{UserMessage{Content: "hello"}, AssistantMessage{Content: "Hello"}}, snapshot.Messages)
	assert.False(t, snapshot.Loading)
	assert.Nil(t, snapshot.Err)
}

func TestSendMessageNegativeBlankIgnored(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest(" \n\t ")))

	assert.Empty(t, session.Snapshot().Messages)
	assert.Len(t, streamer.calls, 0)
}

func TestSendMessagePositiveAbortsPreviousStream(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("first")))
	first := streamer.next(t)
	first.send(t, `{"type":"content","content":"partial"}`)

	require.NoError(t, session.SendMessage(sendRequest("second")))
	second := streamer.next(t)

	assert.ErrorIs(t, first.ctx.Err(), context.Canceled)
	assert.NoError(t, second.ctx.Err())

	// Events of the aborted stream no longer reach the message list.
	assert.Equal(t, []error{eventStream.ErrStop}, first.send(t, `{"type":"content","content":" late"}`))

	second.send(t, `{"type":"content","content":"answer"}`, `{"done":true}`)
	close(second.done)

	assert.Eventually(t, func() bool { return !session.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ChatMessage{
		UserMessage{Content: "first"},
		AssistantMessage{Content: "partial"},
		UserMessage{Content: "second"},
		AssistantMessage{Content: "answer"},
	}, session.Snapshot().Messages)
	assert.Nil(t, session.Snapshot().Err)
}

func TestSendMessagePositiveMalformedEventSkipped(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)

	results := call.send(t, `{"type":"content","content":"a"}`, `garbage{`, `{"type":"content","content":"b"}`, `{"done":true}`)
	assert.Equal(t, []error{nil, nil, nil, eventStream.ErrStop}, results)
	close(call.done)

	assert.Eventually(t, func() bool { return !session.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	assert.Equal(t, AssistantMessage{Content: "ab"}, session.Snapshot().Messages[1])
}

func TestSendMessageNegativeInBandError(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)

	results := call.send(t, `{"error":"sandbox down"}`)
	assert.Equal(t, []error{eventStream.ErrStop}, results)
	close(call.done)

	assert.Eventually(t, func() bool { return !session.Snapshot().Streaming }, time.Second, 5*time.Millisecond)
	snapshot := session.Snapshot()
	assert.False(t, snapshot.Loading)
	require.NotNil(t, snapshot.Err)
	assert.Equal(t, "sandbox down", snapshot.Err.Message)
	assert.Equal(t, ErrorKindStream, snapshot.Err.Kind)
}

func TestSendMessageNegativeTransportError(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.err = errors.New("connection reset by peer")
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)
	call.send(t, `{"chunk":"."}`)
	close(call.done)

	assert.Eventually(t, func() bool { return session.Snapshot().Err != nil }, time.Second, 5*time.Millisecond)
	snapshot := session.Snapshot()
	assert.Equal(t, ErrorKindConnectionLost, snapshot.Err.Kind)
	assert.False(t, snapshot.Loading)
	assert.False(t, snapshot.Processing)
	assert.False(t, snapshot.Streaming)
	assert.Len(t, streamer.calls, 0)
}

func TestSendMessageNegativeTokenProviderFails(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	request := sendRequest("hello")
	request.Tokens = authToken.Static("")
	require.NoError(t, session.SendMessage(request))

	assert.Eventually(t, func() bool { return session.Snapshot().Err != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ErrorKindConnectionLost, session.Snapshot().Err.Kind)
	assert.Len(t, streamer.calls, 0)
}

func TestResetChatPositive(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)
	call.send(t, `{"type":"content","content":"par"}`)

	session.ResetChat()

	snapshot := session.Snapshot()
	assert.Empty(t, snapshot.Messages)
	assert.False(t, snapshot.Loading)
	assert.False(t, snapshot.Processing)
	assert.False(t, snapshot.Streaming)
	assert.ErrorIs(t, call.ctx.Err(), context.Canceled)

	// A second reset and a reset without a stream are no-ops.
	session.ResetChat()
	assert.Empty(t, session.Snapshot().Messages)
}

func TestResetChatPositiveAfterCompletion(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)
	call.send(t, `{"done":true}`)
	close(call.done)
	assert.Eventually(t, func() bool { return !session.Snapshot().Streaming }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, session.ResetChat)
	assert.Nil(t, session.Snapshot().Err)
}

func TestLoadHistoryPositive(t *testing.T) {
	session := New(newFakeStreamer(), nil)
	defer session.Shutdown()

	session.LoadHistory(MessagesFromHistory([]orchestrator.HistoryMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", ToolName: "search", State: "output-available", Output: map[string]any{"result": "42"}},
		{Role: "tool"},
		{Role: "system", Content: "ignored"},
	}))

	messages := session.Snapshot().Messages
	require.Len(t, messages, 3)
	assert.Equal(t, UserMessage{Content: "hi"}, messages[0])
	assert.Equal(t, AssistantMessage{Content: "hello"}, messages[1])
	assert.Equal(t, "search", messages[2].(ToolMessage).ToolName)
}

func TestResponseFuncPositiveSnapshots(t *testing.T) {
	var mutex sync.Mutex
	var snapshots []Snapshot
	streamer := newFakeStreamer()
	session := New(streamer, func(snapshot Snapshot) {
		mutex.Lock()
		snapshots = append(snapshots, snapshot)
		mutex.Unlock()
	})
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)
	call.send(t, `{"chunk":"."}`, `{"done":true}`)
	close(call.done)

	assert.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(snapshots) == 3
	}, time.Second, 5*time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	assert.True(t, snapshots[0].Loading)
	assert.True(t, snapshots[1].Processing)
	assert.False(t, snapshots[2].Loading)
}

func TestResetChatPositiveStaleSnapshotNotDeliveredLast(t *testing.T) {
	var mutex sync.Mutex
	var delivered []Snapshot
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	streamer := newFakeStreamer()
	session := New(streamer, func(snapshot Snapshot) {
		for _, message := range snapshot.Messages {
			if _, ok := message.(AssistantMessage); ok {
				once.Do(func() {
					close(blocked)
					<-release
				})
			}
		}
		mutex.Lock()
		delivered = append(delivered, snapshot)
		mutex.Unlock()
	})
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)
	go call.send(t, `{"type":"content","content":"old chat text"}`)
	<-blocked

	session.ResetChat()
	close(release)

	assert.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(delivered) > 0 && len(delivered[len(delivered)-1].Messages) == 0
	}, time.Second, 5*time.Millisecond)

	// Nothing older arrives after the reset snapshot.
	time.Sleep(20 * time.Millisecond)
	mutex.Lock()
	defer mutex.Unlock()
	last := delivered[len(delivered)-1]
	assert.Empty(t, last.Messages)
	assert.False(t, last.Loading)
	assert.Empty(t, session.Snapshot().Messages)
}

func TestLoadHistoryPositiveDeliveredAfterStaleEvent(t *testing.T) {
	var mutex sync.Mutex
	var delivered []Snapshot
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	streamer := newFakeStreamer()
	session := New(streamer, func(snapshot Snapshot) {
		if snapshot.Processing {
			once.Do(func() {
				close(blocked)
				<-release
			})
		}
		mutex.Lock()
		delivered = append(delivered, snapshot)
		mutex.Unlock()
	})
	defer session.Shutdown()

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)
	go call.send(t, `{"chunk":"."}`)
	<-blocked

	session.LoadHistory([]ChatMessage{UserMessage{Content: "other chat"}})
	close(release)

	assert.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		last := delivered[len(delivered)-1]
		return len(last.Messages) == 1 && last.Messages[0] == UserMessage{Content: "other chat"}
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownNegativeSendAfterShutdown(t *testing.T) {
	streamer := newFakeStreamer()
	session := New(streamer, nil)

	require.NoError(t, session.SendMessage(sendRequest("hello")))
	call := streamer.next(t)

	session.Shutdown()
	assert.ErrorIs(t, call.ctx.Err(), context.Canceled)
	assert.ErrorIs(t, session.SendMessage(sendRequest("again")), ErrSessionClosed)
	session.Shutdown()
}
