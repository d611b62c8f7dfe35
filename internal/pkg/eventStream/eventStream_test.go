package eventStream

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) []Event {
	var events []Event
	err := Read(context.Background(), strings.NewReader(input), func(event Event) error {
		events = append(events, event)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestReadPositiveFrames(t *testing.T) {
	events := collect(t, "data: {\"type\":\"content\"}\n\n: keep-alive\n\nevent: message\nid: 7\ndata: {\"done\":true}\n\n")

	require.Len(t, events, 2)
	assert.Equal(t, `{"type":"content"}`, string(events[0].Data))
	assert.Equal(t, "message", events[1].Type)
	assert.Equal(t, "7", events[1].Id)
	assert.Equal(t, `{"done":true}`, string(events[1].Data))
}

func TestReadPositiveMultilineData(t *testing.T) {
	events := collect(t, "data: first\ndata: second\n\n")

	require.Len(t, events, 1)
	assert.Equal(t, "first\nsecond", string(events[0].Data))
}

func TestReadPositiveUnterminatedLastFrame(t *testing.T) {
	events := collect(t, "data: a\n\ndata: b")

	require.Len(t, events, 2)
	assert.Equal(t, "b", string(events[1].Data))
}

func TestReadPositiveCarriageReturnLineEndings(t *testing.T) {
	events := collect(t, "data: a\r\n\r\n")

	require.Len(t, events, 1)
	assert.Equal(t, "a", strings.TrimSuffix(string(events[0].Data), "\r"))
}

func TestReadPositiveStop(t *testing.T) {
	count := 0
	err := Read(context.Background(), strings.NewReader("data: 1\n\ndata: 2\n\ndata: 3\n\n"), func(event Event) error {
		count++
		if string(event.Data) == "2" {
			return ErrStop
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReadNegativeHandlerError(t *testing.T) {
	handlerErr := errors.New("boom")
	err := Read(context.Background(), strings.NewReader("data: 1\n\n"), func(event Event) error {
		return handlerErr
	})

	assert.ErrorIs(t, err, handlerErr)
}

func TestReadNegativeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Read(ctx, strings.NewReader("data: 1\n\n"), func(event Event) error {
		t.Fatal("handler must not be called after cancellation")
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}
