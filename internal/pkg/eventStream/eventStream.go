package eventStream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const ContentType = "text/event-stream"

const maxFrameSize = 4 * 1024 * 1024

// ErrStop may be returned by a HandlerFunc to end reading without an error.
var ErrStop = errors.New("event stream stopped")

type Event struct {
	Type string
	Id   string
	Data []byte
}

type HandlerFunc func(event Event) error

var readError = func(err error) error {
	return fmt.Errorf("error reading event stream: %w", err)
}

// Read parses server-sent event frames from reader and calls handler for every frame
// carrying data, in arrival order. Multi-line data is joined with "\n". It returns nil
// when the stream ends or the handler returns ErrStop.
func Read(ctx context.Context, reader io.Reader, handler HandlerFunc) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var current Event
	var data bytes.Buffer
	hasData := false

	dispatch := func() error {
		if !hasData {
			current = Event{}
			return nil
		}
		current.Data = bytes.Clone(data.Bytes())
		err := handler(current)
		current = Event{}
		data.Reset()
		hasData = false
		return err
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return stopped(err)
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		name, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch name {
		case "event":
			current.Type = value
		case "id":
			current.Id = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return readError(err)
	}

	if err := dispatch(); err != nil {
		return stopped(err)
	}
	return nil
}

func stopped(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}
